package main

import (
	"bytes"
	"encoding/json"
	"strings"
	"testing"

	"github.com/aretw0/ledger"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetErr(&bytes.Buffer{})
	rootCmd.SetArgs(args)
	err := rootCmd.Execute()
	return out.String(), err
}

func TestCLI_ExecFindInspect(t *testing.T) {
	dir := t.TempDir()

	out, err := run(t, "exec", "createAccount", `{"name":"John"}`, "--dir", dir)
	require.NoError(t, err)
	var res map[string]any
	require.NoError(t, json.Unmarshal([]byte(out), &res))
	assert.Equal(t, 1.0, res["result"])
	assert.Equal(t, 1.0, res["seq"])

	_, err = run(t, "exec", "changeBalance", `{"id":1,"inc":10000}`, "--dir", dir)
	require.NoError(t, err)

	out, err = run(t, "find", "AccountView", "1", "--dir", dir)
	require.NoError(t, err)
	var view map[string]any
	require.NoError(t, json.Unmarshal([]byte(out), &view))
	assert.Equal(t, 10000.0, view["balance"])

	out, err = run(t, "find", "ChangeView", "--dir", dir)
	require.NoError(t, err)
	var changes []map[string]any
	require.NoError(t, json.Unmarshal([]byte(out), &changes))
	assert.Len(t, changes, 2)

	_, err = run(t, "exec", "changeBalance", `{"id":999,"inc":5}`, "--dir", dir)
	assert.Error(t, err)

	out, err = run(t, "inspect", "--redact", "--dir", dir)
	require.NoError(t, err)
	assert.Contains(t, out, "createAccount")
	assert.NotContains(t, out, "John")
	assert.Contains(t, out, "2 records, last seq 2")
}

func TestCLI_Demo(t *testing.T) {
	out, err := run(t, "demo", "--dir", t.TempDir())
	require.NoError(t, err)
	assert.Contains(t, out, `"balance":10000`)
	assert.Contains(t, out, "journal unchanged: true")
}

func TestCLI_Errors(t *testing.T) {
	_, err := run(t, "exec", "createAccount", "{not json", "--dir", t.TempDir())
	assert.Error(t, err)

	_, err = run(t, "find", "AccountView", "abc", "--dir", t.TempDir())
	assert.Error(t, err)

	_, err = run(t, "exec", "createAccount", "--backend", "tape", "--dir", t.TempDir())
	assert.Error(t, err)
}

func TestCLI_Version(t *testing.T) {
	out, err := run(t, "version")
	require.NoError(t, err)
	assert.Equal(t, "ledger version "+strings.TrimSpace(ledger.Version)+"\n", out)
}
