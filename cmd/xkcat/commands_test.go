package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/omeyang/xkclient/pkg/config/xconf"
	"github.com/omeyang/xkclient/pkg/mq/xkafka"
	"github.com/omeyang/xkclient/pkg/observability/xlog"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

type result struct {
	code   int
	stdout string
	stderr string
}

// xkcat 在共享的内存集群上执行一条命令。
func xkcat(t *testing.T, stdin string, args ...string) result {
	t.Helper()
	var out, errOut bytes.Buffer
	argv := append([]string{"xkcat", "--transport", "mock", "--timeout", "5s"}, args...)
	code := run(context.Background(), argv, strings.NewReader(stdin), &out, &errOut)
	return result{code: code, stdout: out.String(), stderr: errOut.String()}
}

func topicName(t *testing.T) string {
	return strings.NewReplacer("/", ".", " ", "_").Replace(t.Name())
}

// sumColumn 对首列为 first 的各行的第 idx 列求和。
func sumColumn(t *testing.T, table, first string, idx int) int64 {
	t.Helper()
	var total int64
	for _, line := range strings.Split(table, "\n") {
		f := strings.Fields(line)
		if len(f) <= idx || f[0] != first {
			continue
		}
		n, err := strconv.ParseInt(f[idx], 10, 64)
		require.NoError(t, err, line)
		total += n
	}
	return total
}

func TestProduceConsumeLag(t *testing.T) {
	topic := topicName(t)

	r := xkcat(t, "", "topic", "create", topic, "-p", "2")
	require.Equal(t, 0, r.code, r.stderr)
	assert.Equal(t, "created "+topic+"\n", r.stdout)

	r = xkcat(t, "k1:v1\nk2:v2\nk3:v3\n", "produce", "-T", topic, "-K", ":", "-H", "src=test", "--report")
	require.Equal(t, 0, r.code, r.stderr)
	assert.Len(t, strings.Split(strings.TrimSpace(r.stdout), "\n"), 3)

	r = xkcat(t, "", "watermarks", "-T", topic)
	require.Equal(t, 0, r.code, r.stderr)
	assert.Equal(t, int64(3), sumColumn(t, r.stdout, topic, 4))

	t.Run("assign json", func(t *testing.T) {
		r := xkcat(t, "", "consume", "-T", topic, "-o", "beginning", "-n", "3", "-f", "json")
		require.Equal(t, 0, r.code, r.stderr)
		var got []string
		dec := json.NewDecoder(strings.NewReader(r.stdout))
		for dec.More() {
			var m jsonMessage
			require.NoError(t, dec.Decode(&m))
			assert.Equal(t, topic, m.Topic)
			assert.Equal(t, "test", m.Headers["src"])
			got = append(got, m.Key+"="+m.Value)
		}
		sort.Strings(got)
		assert.Equal(t, []string{"k1=v1", "k2=v2", "k3=v3"}, got)
	})

	t.Run("group commits", func(t *testing.T) {
		group := topic + "-group"
		r := xkcat(t, "", "lag", "-T", topic, "-G", group)
		require.Equal(t, 0, r.code, r.stderr)
		assert.Contains(t, r.stdout, "-")

		r = xkcat(t, "", "consume", "-T", topic, "-G", group, "-o", "beginning", "-n", "3")
		require.Equal(t, 0, r.code, r.stderr)
		values := strings.Fields(r.stdout)
		sort.Strings(values)
		assert.Equal(t, []string{"v1", "v2", "v3"}, values)

		r = xkcat(t, "", "lag", "-T", topic, "-G", group)
		require.Equal(t, 0, r.code, r.stderr)
		assert.Equal(t, int64(0), sumColumn(t, r.stdout, "TOTAL", 1))
		assert.Equal(t, int64(3), sumColumn(t, r.stdout, topic, 2), "committed offsets")
	})

	t.Run("offsets", func(t *testing.T) {
		r := xkcat(t, "", "offsets", "-T", topic, "--at", "earliest")
		require.Equal(t, 0, r.code, r.stderr)
		assert.Equal(t, int64(0), sumColumn(t, r.stdout, topic, 2))

		r = xkcat(t, "", "offsets", "-T", topic)
		require.Equal(t, 0, r.code, r.stderr)
		assert.Equal(t, int64(3), sumColumn(t, r.stdout, topic, 2))
	})
}

func TestProduce_ArgsAndPartition(t *testing.T) {
	topic := topicName(t)
	r := xkcat(t, "", "produce", "-T", topic, "-p", "0", "-k", "fixed", "--report", "a", "b")
	require.Equal(t, 0, r.code, r.stderr)
	assert.Equal(t, topic+"[0]@0\n"+topic+"[0]@1\n", r.stdout)

	r = xkcat(t, "", "consume", "-T", topic, "-o", "1", "-n", "1", "-f", "text")
	require.Equal(t, 0, r.code, r.stderr)
	assert.Equal(t, topic+" [0] @ 1: key=\"fixed\" b\n", r.stdout)
}

func TestConsume_WithMetricsServer(t *testing.T) {
	topic := topicName(t)
	require.Equal(t, 0, xkcat(t, "", "produce", "-T", topic, "x").code)

	r := xkcat(t, "", "--metrics-addr", "127.0.0.1:0", "consume", "-T", topic, "-G", topic,
		"-o", "beginning", "-n", "1", "--lag-interval", "10ms")
	require.Equal(t, 0, r.code, r.stderr)
	assert.Equal(t, "x\n", r.stdout)
}

func TestTopicAndCluster(t *testing.T) {
	topic := topicName(t)
	require.Equal(t, 0, xkcat(t, "", "topic", "create", topic, "-p", "3", "--topic-config", "retention.ms=1000").code)

	r := xkcat(t, "", "cluster")
	require.Equal(t, 0, r.code, r.stderr)
	assert.Contains(t, r.stdout, "cluster: ")
	assert.Equal(t, int64(3), sumColumn(t, r.stdout, topic, 1))

	r = xkcat(t, "", "topic", "delete", topic)
	require.Equal(t, 0, r.code, r.stderr)
	assert.Equal(t, "deleted "+topic+"\n", r.stdout)

	r = xkcat(t, "", "topic", "delete", topic)
	assert.Equal(t, 1, r.code)
	assert.Contains(t, r.stderr, topic+": ")

	r = xkcat(t, "", "topic", "create", topic, "-p", "0")
	assert.Equal(t, 2, r.code)
}

func TestUsageErrors(t *testing.T) {
	t.Setenv("XKCLIENT_BROKERS", "")
	tests := []struct {
		name string
		args []string
	}{
		{"produce without topic", []string{"produce", "x"}},
		{"bad partition", []string{"produce", "-T", "t", "--partition=-5", "x"}},
		{"bad header", []string{"produce", "-T", "t", "-H", "nokey", "x"}},
		{"bad format", []string{"consume", "-T", "t", "-f", "xml"}},
		{"bad offset", []string{"consume", "-T", "t", "-o", "soon"}},
		{"lag interval without group", []string{"consume", "-T", "t", "--lag-interval", "1s"}},
		{"lag without group", []string{"lag", "-T", "t"}},
		{"bad at", []string{"offsets", "-T", "t", "--at", "yesterday"}},
		{"create without topic", []string{"topic", "create"}},
		{"bad property", []string{"-X", "novalue", "cluster"}},
		{"unknown transport", []string{"--transport", "carrier-pigeon", "cluster"}},
		{"sarama without brokers", []string{"--transport", "sarama", "cluster"}},
		{"bad log level", []string{"--log-level", "loud", "cluster"}},
		{"unknown flag", []string{"--no-such-flag", "cluster"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := xkcat(t, "", tt.args...)
			assert.Equal(t, 2, r.code, "stderr: %s", r.stderr)
		})
	}
}

func TestVersion(t *testing.T) {
	r := xkcat(t, "", "--version")
	assert.Equal(t, 0, r.code)
	assert.Contains(t, r.stdout, Version)
}

func TestConfigFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "xkcat.yaml")
	require.NoError(t, os.WriteFile(path, []byte("kafka:\n  client:\n    id: from-file\nlog:\n  level: error\n"), 0o600))
	topic := topicName(t)

	r := xkcat(t, "", "--config", path, "produce", "-T", topic, "--report", "v")
	require.Equal(t, 0, r.code, r.stderr)
	assert.Equal(t, topic+"[0]@0\n", r.stdout)

	r = xkcat(t, "", "--config", filepath.Join(t.TempDir(), "missing.yaml"), "cluster")
	assert.Equal(t, 1, r.code)
}

func TestSession_OnConfigChange(t *testing.T) {
	logger, closeLog, err := xlog.New().SetOutput(&bytes.Buffer{}).SetLevel(xlog.LevelWarn).Build()
	require.NoError(t, err)
	defer func() { _ = closeLog() }()
	s := &session{logger: logger}

	cfg, err := xconf.NewFromBytes([]byte("log:\n  level: debug\n"), xconf.FormatYAML)
	require.NoError(t, err)
	s.onConfigChange(cfg, nil)
	assert.Equal(t, xlog.LevelDebug, logger.GetLevel())

	bad, err := xconf.NewFromBytes([]byte("log:\n  level: loud\n"), xconf.FormatYAML)
	require.NoError(t, err)
	s.onConfigChange(bad, nil)
	s.onConfigChange(nil, errors.New("parse failed"))
	assert.Equal(t, xlog.LevelDebug, logger.GetLevel())
}

func TestParseStart(t *testing.T) {
	tests := []struct {
		in   string
		want xkafka.Offset
		ok   bool
	}{
		{"beginning", xkafka.OffsetBeginning, true},
		{"EARLIEST", xkafka.OffsetBeginning, true},
		{"end", xkafka.OffsetEnd, true},
		{"stored", xkafka.OffsetStored, true},
		{"42", 42, true},
		{"-3", 0, false},
		{"soon", 0, false},
	}
	for _, tt := range tests {
		got, err := parseStart(tt.in)
		if !tt.ok {
			var ue *usageError
			assert.ErrorAs(t, err, &ue, tt.in)
			continue
		}
		require.NoError(t, err, tt.in)
		assert.Equal(t, tt.want, got, tt.in)
	}
}

func TestParseOffsetSpec(t *testing.T) {
	got, err := parseOffsetSpec("2024-01-02T03:04:05Z")
	require.NoError(t, err)
	assert.Equal(t, xkafka.Offset(1704164645000), got)

	got, err = parseOffsetSpec("1700000000000")
	require.NoError(t, err)
	assert.Equal(t, xkafka.Offset(1700000000000), got)

	got, err = parseOffsetSpec("latest")
	require.NoError(t, err)
	assert.Equal(t, xkafka.OffsetEnd, got)

	_, err = parseOffsetSpec("-1")
	assert.Error(t, err)
}

func TestParsePairs(t *testing.T) {
	got, err := parsePairs("header", []string{"a=1", "b=x=y", "c="})
	require.NoError(t, err)
	assert.Equal(t, map[string]string{"a": "1", "b": "x=y", "c": ""}, got)

	got, err = parsePairs("header", nil)
	require.NoError(t, err)
	assert.Nil(t, got)

	_, err = parsePairs("header", []string{"=1"})
	assert.Error(t, err)
}

func TestIsCLIUsageError(t *testing.T) {
	assert.True(t, isCLIUsageError(errors.New("flag provided but not defined: -z")))
	assert.False(t, isCLIUsageError(errors.New("broker down")))
	assert.Equal(t, "exit status 1", (&exitError{code: 1}).Error())
}
