package main

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/creastat/widget"
	"github.com/creastat/widget/chat"
	"github.com/creastat/widget/config"
	"github.com/creastat/widget/session"
)

func resetFlags(t *testing.T) {
	t.Helper()
	configPath, apiURL, tenantID, storeFlag, storePath = "", "", "", "", ""
	verbose = false
	t.Cleanup(func() {
		configPath, apiURL, tenantID, storeFlag, storePath = "", "", "", "", ""
	})
}

func TestLoadConfigPrecedence(t *testing.T) {
	resetFlags(t)
	dir := t.TempDir()
	path := filepath.Join(dir, "widget.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
api_url: https://file.example.test
tenant_id: from-file
title: From file
ping_interval: 10s
`), 0o600))

	t.Setenv("CHATWIDGET_TENANT_ID", "from-env")
	t.Setenv("CHATWIDGET_TITLE", "From env")

	configPath = path
	apiURL = "https://flag.example.test/"

	c, err := loadConfig()
	require.NoError(t, err)
	assert.Equal(t, "https://flag.example.test", c.APIURL)
	assert.Equal(t, "from-env", c.TenantID)
	assert.Equal(t, "From env", c.Title)
	assert.Equal(t, 10*time.Second, c.PingInterval.Duration())
	assert.Equal(t, "memory", c.Store.Driver)
}

func TestLoadConfigRequiresTenant(t *testing.T) {
	resetFlags(t)
	t.Setenv("CHATWIDGET_TENANT_ID", "")
	apiURL = "https://chat.example.test"

	_, err := loadConfig()
	assert.ErrorIs(t, err, config.ErrInvalid)
}

func TestTermShell(t *testing.T) {
	var buf bytes.Buffer
	s := newTermShell(&buf)

	s.header("Chat with us", "We typically reply instantly")
	s.MessageAppended(chat.Message{Sender: chat.SenderAgent, SenderName: "Alice", Body: "Hi"})
	s.StatusChanged("Connected to Alice")
	s.StatusChanged("")
	s.TypingChanged(true)
	s.TypingChanged(false)
	s.VisibilityChanged(false)

	out := buf.String()
	assert.Contains(t, out, "== Chat with us ==")
	assert.Contains(t, out, "agent Alice] Hi")
	assert.Contains(t, out, "** Connected to Alice **")
	assert.Contains(t, out, "... typing")
	assert.Contains(t, out, "widget closed")
}

func TestSessionShowAndClear(t *testing.T) {
	resetFlags(t)
	dir := t.TempDir()
	t.Setenv("CHATWIDGET_API_URL", "https://chat.example.test")
	t.Setenv("CHATWIDGET_TENANT_ID", "tenant-1")

	c := config.Default()
	c.APIURL = "https://chat.example.test"
	c.TenantID = "tenant-1"
	c.Store = config.StoreConfig{Driver: "file", Path: dir}
	store, err := widget.OpenSessionStore(c)
	require.NoError(t, err)
	require.NoError(t, store.Save(context.Background(), session.Record{
		SessionID:      9,
		SessionKey:     "sess-cli",
		ConversationID: 9,
		Messages:       []chat.Message{{ID: 1, Sender: chat.SenderVisitor, Body: "hello"}},
	}))
	require.NoError(t, store.Close())

	run := func(args ...string) string {
		var out bytes.Buffer
		rootCmd.SetOut(&out)
		rootCmd.SetArgs(append(args, "--store", "file", "--store-path", dir))
		require.NoError(t, rootCmd.Execute())
		return out.String()
	}

	out := run("session", "show")
	assert.Contains(t, out, `"sessionKey": "sess-cli"`)
	assert.Contains(t, out, `"savedAt"`)

	assert.Contains(t, run("session", "clear"), "cached session cleared")
	assert.Contains(t, run("session", "show"), "no cached session")
}
