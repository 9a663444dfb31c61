// Package feishu 通过飞书机器人 Webhook 推送批次分类结果
package feishu

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"classifyhub/internal/common"
	"classifyhub/internal/domain"
	"classifyhub/internal/logger"
	"classifyhub/internal/port"
)

type Notifier struct {
	webhookURL string
	client     *http.Client
	log        logger.Logger
}

func NewNotifier(webhook string, log logger.Logger) *Notifier {
	if log == nil {
		log = logger.NewNop()
	}
	if webhook == "" {
		log.Warn("飞书 Webhook 为空，推送功能将无法工作")
	}
	return &Notifier{
		webhookURL: webhook,
		client:     &http.Client{Timeout: 10 * time.Second},
		log:        log,
	}
}

// NotifyBatch 发送飞书卡片消息 (Schema 2.0)
func (n *Notifier) NotifyBatch(ctx context.Context, summary port.BatchSummary) error {
	if n.webhookURL == "" {
		return fmt.Errorf("Webhook URL 为空")
	}

	title := fmt.Sprintf("📦 分类完成: %d 个仓库", summary.Total)
	template := "blue"
	if summary.Failed > 0 {
		template = "orange"
	}

	payload := map[string]interface{}{
		"msg_type": "interactive",
		"card": map[string]interface{}{
			"schema": "2.0",
			"config": map[string]interface{}{
				"update_multi": true,
			},
			"header": map[string]interface{}{
				"title": map[string]interface{}{
					"tag":     "plain_text",
					"content": title,
				},
				"template": template,
			},
			"body": map[string]interface{}{
				"direction": "vertical",
				"elements": []map[string]interface{}{
					{
						"tag":       "markdown",
						"content":   summaryMarkdown(summary),
						"text_size": "normal",
					},
				},
			},
		},
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return common.WrapError(common.ErrCodeNotification, "序列化飞书消息失败", err)
	}
	err = common.Do(ctx, func() error {
		req, reqErr := http.NewRequestWithContext(ctx, http.MethodPost, n.webhookURL, bytes.NewReader(body))
		if reqErr != nil {
			return reqErr
		}
		req.Header.Set("Content-Type", "application/json")
		resp, postErr := n.client.Do(req)
		if postErr != nil {
			return postErr
		}
		defer resp.Body.Close()

		if resp.StatusCode != http.StatusOK {
			return fmt.Errorf("飞书 API 报错: 状态码 %d", resp.StatusCode)
		}
		return nil
	},
		common.WithMaxRetries(3),
		common.WithInitialDelay(500*time.Millisecond),
	)
	if err != nil {
		return common.WrapError(common.ErrCodeNotification, "发送请求失败", err)
	}

	n.log.Info("飞书批次通知已发送", logger.Int("total", summary.Total), logger.Int("failed", summary.Failed))
	return nil
}

// summaryMarkdown 按枚举顺序列出各分类数量，数量为 0 的分类省略
func summaryMarkdown(s port.BatchSummary) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "**✅ 成功:** %d  |  **❌ 失败:** %d  |  **⏱ 耗时:** %s\n\n",
		s.Total-s.Failed, s.Failed, s.Duration.Round(time.Millisecond))
	sb.WriteString("**📊 分类分布:**\n")
	for _, c := range domain.AllClasses() {
		if s.PerClass[c] == 0 {
			continue
		}
		fmt.Fprintf(&sb, "- %s: %d\n", c, s.PerClass[c])
	}
	return sb.String()
}
