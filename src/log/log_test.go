package log

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/droneguard/droneguard-go/src/configs"
)

func TestDailyRotatingWriter_Rotate(t *testing.T) {
	dir := t.TempDir()
	day1 := time.Date(2024, 5, 1, 23, 59, 0, 0, time.Local)
	now := day1

	w := &dailyRotatingWriter{dir: dir, base: "droneguard", retentionDays: 0, now: func() time.Time { return now }}
	t.Cleanup(func() { _ = w.Close() })

	_, err := w.Write([]byte("first\n"))
	require.NoError(t, err)

	now = day1.Add(2 * time.Minute)
	_, err = w.Write([]byte("second\n"))
	require.NoError(t, err)

	b1, err := os.ReadFile(filepath.Join(dir, "droneguard-2024-05-01.log"))
	require.NoError(t, err)
	assert.Equal(t, "first\n", string(b1))

	b2, err := os.ReadFile(filepath.Join(dir, "droneguard-2024-05-02.log"))
	require.NoError(t, err)
	assert.Equal(t, "second\n", string(b2))
}

func TestDailyRotatingWriter_Cleanup(t *testing.T) {
	dir := t.TempDir()
	old := filepath.Join(dir, "droneguard-2020-01-01.log")
	unrelated := filepath.Join(dir, "other-2020-01-01.log")
	require.NoError(t, os.WriteFile(old, []byte("old"), 0o644))
	require.NoError(t, os.WriteFile(unrelated, []byte("keep"), 0o644))

	now := time.Date(2024, 5, 1, 12, 0, 0, 0, time.Local)
	w := &dailyRotatingWriter{dir: dir, base: "droneguard", retentionDays: 7, now: func() time.Time { return now }}
	t.Cleanup(func() { _ = w.Close() })
	_, err := w.Write([]byte("x"))
	require.NoError(t, err)

	_, err = os.Stat(old)
	assert.True(t, os.IsNotExist(err), "过期日志应当被清理")
	_, err = os.Stat(unrelated)
	assert.NoError(t, err)
}

func TestNewAndApplyDebug(t *testing.T) {
	prevLevel := logrus.GetLevel()
	prevOut := logrus.StandardLogger().Out
	t.Cleanup(func() {
		logrus.SetLevel(prevLevel)
		logrus.SetReportCaller(false)
		logrus.SetOutput(prevOut)
	})

	cfg := configs.NewConfig()
	cfg.Debug = true
	cfg.Log.SaveLastLog = false
	logger, err := New(cfg)
	require.NoError(t, err)
	assert.Equal(t, logrus.DebugLevel, logger.GetLevel())
	assert.True(t, logger.ReportCaller)

	ApplyDebug(false)
	assert.Equal(t, logrus.InfoLevel, logger.GetLevel())
	assert.False(t, logger.ReportCaller)

	cfg.Log.SaveLastLog = true
	cfg.Log.OutPutFolder = filepath.Join(t.TempDir(), "missing")
	_, err = New(cfg)
	assert.Error(t, err)
}
