package db

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"gorm.io/gorm"
)

func TestLogger_SkipsRecordNotFound(t *testing.T) {
	var buf bytes.Buffer
	l := newLogger(&buf)
	query := func() (string, int64) { return "SELECT * FROM app_config WHERE key = 'app_logo'", 0 }

	l.Trace(context.Background(), time.Now(), query, gorm.ErrRecordNotFound)
	if buf.Len() != 0 {
		t.Fatalf("record not found should not be logged, got %q", buf.String())
	}

	l.Trace(context.Background(), time.Now(), query, errors.New("disk I/O error"))
	if !strings.Contains(buf.String(), "disk I/O error") {
		t.Fatalf("real errors must still be logged, got %q", buf.String())
	}
}

func TestOpen_SQLite(t *testing.T) {
	gdb, err := Open("sqlite:file:db_open_test?mode=memory&cache=shared")
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	var n int
	if err := gdb.Raw("SELECT 1").Scan(&n).Error; err != nil || n != 1 {
		t.Fatalf("select 1: n=%d err=%v", n, err)
	}
}
