// Package export 把分类结果写成文本或 Excel 文件
package export

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"classifyhub/internal/domain"

	"github.com/xuri/excelize/v2"
)

const (
	resultSheet = "Results"
	detailSheet = "Classifiers"
)

// Save 按扩展名选择格式：.xlsx 写 Excel，其它写文本
func Save(path string, results []domain.ClassificationResult, classifierNames []string) error {
	if strings.EqualFold(filepath.Ext(path), ".xlsx") {
		return SaveXLSX(path, results, classifierNames)
	}
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("创建结果文件失败: %w", err)
	}
	if err := WriteText(f, results); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}

// WriteText 每行一个 "仓库地址 分类"，失败的仓库不写入
func WriteText(w io.Writer, results []domain.ClassificationResult) error {
	bw := bufio.NewWriter(w)
	for _, r := range results {
		if !r.OK() {
			continue
		}
		if _, err := fmt.Fprintf(bw, "%s %s\n", r.ID.URL(), r.Class); err != nil {
			return fmt.Errorf("写入结果失败: %w", err)
		}
	}
	return bw.Flush()
}

// SaveXLSX 第一个工作表是汇总和各分类概率，第二个工作表是每个分类器的概率
func SaveXLSX(path string, results []domain.ClassificationResult, classifierNames []string) error {
	f := excelize.NewFile()
	defer f.Close()

	if err := f.SetSheetName("Sheet1", resultSheet); err != nil {
		return err
	}

	headers := []any{"repository", "url", "class"}
	for _, c := range domain.AllClasses() {
		headers = append(headers, c.String())
	}
	if err := setRow(f, resultSheet, 1, headers); err != nil {
		return err
	}

	if _, err := f.NewSheet(detailSheet); err != nil {
		return err
	}
	detailHeaders := []any{"repository", "classifier"}
	for _, c := range domain.AllClasses() {
		detailHeaders = append(detailHeaders, c.String())
	}
	if err := setRow(f, detailSheet, 1, detailHeaders); err != nil {
		return err
	}

	row, detailRow := 2, 2
	for _, r := range results {
		if !r.OK() {
			continue
		}
		values := []any{r.ID.String(), r.ID.URL(), r.Class.String()}
		for _, p := range r.Combined {
			values = append(values, p)
		}
		if err := setRow(f, resultSheet, row, values); err != nil {
			return err
		}
		row++

		for _, name := range classifierNames {
			d, ok := r.PerClassifier[name]
			if !ok {
				continue
			}
			values := []any{r.ID.String(), name}
			for _, p := range d {
				values = append(values, p)
			}
			if err := setRow(f, detailSheet, detailRow, values); err != nil {
				return err
			}
			detailRow++
		}
	}

	if err := f.SaveAs(path); err != nil {
		return fmt.Errorf("保存 Excel 失败: %w", err)
	}
	return nil
}

func setRow(f *excelize.File, sheet string, row int, values []any) error {
	cell, err := excelize.CoordinatesToCellName(1, row)
	if err != nil {
		return err
	}
	return f.SetSheetRow(sheet, cell, &values)
}
