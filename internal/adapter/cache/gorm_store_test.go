package cache

import (
	"context"
	"errors"
	"path/filepath"
	"regexp"
	"sync"
	"testing"
	"time"

	"classifyhub/internal/domain"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// setupMockDB 创建一个模拟的数据库连接
func setupMockDB(t *testing.T) (*gorm.DB, sqlmock.Sqlmock) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	gormDB, err := gorm.Open(postgres.New(postgres.Config{
		Conn: db,
	}), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)
	return gormDB, mock
}

var testID = domain.RepositoryID{Owner: "octocat", Name: "hello-world"}

func TestGormStore_Get(t *testing.T) {
	now := time.Date(2024, 3, 10, 12, 0, 0, 0, time.UTC)

	tests := []struct {
		name      string
		setupMock func(sqlmock.Sqlmock)
		maxAge    time.Duration
		wantOK    bool
		wantErr   bool
	}{
		{
			name: "命中未过期记录",
			setupMock: func(mock sqlmock.Sqlmock) {
				rows := sqlmock.NewRows([]string{"owner", "name", "payload", "not_found", "fetched_at"}).
					AddRow("octocat", "hello-world", []byte(`{"readme":"hi"}`), false, now.Add(-time.Hour))
				mock.ExpectQuery(regexp.QuoteMeta(`SELECT * FROM "repository_cache" WHERE owner = $1 AND name = $2`)).
					WillReturnRows(rows)
			},
			maxAge: 24 * time.Hour,
			wantOK: true,
		},
		{
			name: "记录已过期视为不存在",
			setupMock: func(mock sqlmock.Sqlmock) {
				rows := sqlmock.NewRows([]string{"owner", "name", "payload", "not_found", "fetched_at"}).
					AddRow("octocat", "hello-world", []byte(`{}`), false, now.Add(-48*time.Hour))
				mock.ExpectQuery(regexp.QuoteMeta(`SELECT * FROM "repository_cache"`)).
					WillReturnRows(rows)
			},
			maxAge: 24 * time.Hour,
			wantOK: false,
		},
		{
			name: "没有记录",
			setupMock: func(mock sqlmock.Sqlmock) {
				mock.ExpectQuery(regexp.QuoteMeta(`SELECT * FROM "repository_cache"`)).
					WillReturnRows(sqlmock.NewRows([]string{"owner", "name", "payload", "not_found", "fetched_at"}))
			},
			maxAge: 24 * time.Hour,
			wantOK: false,
		},
		{
			name: "数据库错误",
			setupMock: func(mock sqlmock.Sqlmock) {
				mock.ExpectQuery(regexp.QuoteMeta(`SELECT * FROM "repository_cache"`)).
					WillReturnError(errors.New("connection reset"))
			},
			maxAge:  24 * time.Hour,
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			db, mock := setupMockDB(t)
			tt.setupMock(mock)

			store := NewGormStore(db)
			store.nowFunc = func() time.Time { return now }

			entry, ok, err := store.Get(context.Background(), testID, tt.maxAge)
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				require.NoError(t, err)
				assert.Equal(t, tt.wantOK, ok)
				if tt.wantOK {
					assert.Equal(t, testID, entry.ID)
					assert.JSONEq(t, `{"readme":"hi"}`, string(entry.Payload))
				}
			}
			assert.NoError(t, mock.ExpectationsWereMet())
		})
	}
}

func TestGormStore_Put(t *testing.T) {
	db, mock := setupMockDB(t)

	mock.ExpectBegin()
	mock.ExpectExec(`INSERT INTO "repository_cache" .* ON CONFLICT \("owner","name"\) DO UPDATE SET`).
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectCommit()

	store := NewGormStore(db)
	err := store.Put(context.Background(), &domain.CacheEntry{
		ID:        testID,
		Payload:   []byte(`{}`),
		FetchedAt: time.Now(),
	})
	assert.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestGormStore_PutRejectsEmptyID(t *testing.T) {
	db, _ := setupMockDB(t)
	err := NewGormStore(db).Put(context.Background(), &domain.CacheEntry{})
	assert.Error(t, err)
}

func TestGormStore_InvalidateOlderThan(t *testing.T) {
	db, mock := setupMockDB(t)

	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta(`DELETE FROM "repository_cache" WHERE fetched_at < $1`)).
		WillReturnResult(sqlmock.NewResult(0, 3))
	mock.ExpectCommit()

	n, err := NewGormStore(db).InvalidateOlderThan(context.Background(), 7*24*time.Hour)
	require.NoError(t, err)
	assert.Equal(t, int64(3), n)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSQLiteStore_Durable(t *testing.T) {
	path := filepath.Join(t.TempDir(), "cache", "cache.db")
	ctx := context.Background()
	fetched := time.Now().Add(-time.Minute).UTC().Truncate(time.Second)

	store, err := OpenSQLite(path)
	require.NoError(t, err)
	require.NoError(t, store.Put(ctx, &domain.CacheEntry{ID: testID, Payload: []byte("v1"), FetchedAt: fetched}))
	require.NoError(t, store.Put(ctx, &domain.CacheEntry{ID: testID, Payload: []byte("v2"), FetchedAt: fetched}))
	require.NoError(t, store.Close())

	// 重新打开后数据仍在
	reopened, err := OpenSQLite(path)
	require.NoError(t, err)
	defer reopened.Close()

	entry, ok, err := reopened.Get(ctx, testID, time.Hour)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "v2", string(entry.Payload))
	assert.True(t, entry.FetchedAt.Equal(fetched))

	_, ok, err = reopened.Get(ctx, domain.RepositoryID{Owner: "OctoCat", Name: "hello-world"}, time.Hour)
	require.NoError(t, err)
	assert.False(t, ok, "key 区分大小写")

	n, err := reopened.InvalidateOlderThan(ctx, time.Second)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
}

func TestSQLiteStore_ConcurrentWritesSameKey(t *testing.T) {
	store, err := OpenSQLite(filepath.Join(t.TempDir(), "cache.db"))
	require.NoError(t, err)
	defer store.Close()

	ctx := context.Background()
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			assert.NoError(t, store.Put(ctx, &domain.CacheEntry{ID: testID, Payload: []byte("payload"), FetchedAt: time.Now()}))
		}()
	}
	wg.Wait()

	entry, ok, err := store.Get(ctx, testID, time.Hour)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "payload", string(entry.Payload))
}
