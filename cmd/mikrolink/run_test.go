package main

import (
	"testing"
	"time"

	"github.com/danmuck/mikrolink/internal/protocol"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseParams(t *testing.T) {
	params, err := parseParams([]string{"address=10.0.0.1/24", "?type=ether", "~name=^eth", "comment=a=b"})
	require.NoError(t, err)
	require.Len(t, params, 4)

	words := make([]string, 0, len(params))
	for _, p := range params {
		words = append(words, protocol.ParamWord(p))
	}
	assert.Equal(t, []string{"=address=10.0.0.1/24", "?type=ether", "~name~^eth", "=comment=a=b"}, words)
}

func TestParseParamsRejectsEmptyKey(t *testing.T) {
	for _, arg := range []string{"=x", "?=x", ""} {
		_, err := parseParams([]string{arg})
		assert.Error(t, err, "arg %q", arg)
	}
}

func TestPrintCommand(t *testing.T) {
	assert.Equal(t, "/interface/print", printCommand("/interface"))
	assert.Equal(t, "/interface/print", printCommand("interface/"))
	assert.Equal(t, "/ip/address/print", printCommand("/ip/address/print"))
}

func TestBackupParams(t *testing.T) {
	assert.Equal(t, []protocol.Param{
		{Key: "name", Value: "nightly"},
		{Key: "dont-encrypt", Value: "yes"},
	}, backupParams(" nightly ", false))
	assert.Empty(t, backupParams("", true))
}

func TestParseEvery(t *testing.T) {
	d, err := parseEvery("")
	require.NoError(t, err)
	assert.Equal(t, defaultMonitorEvery, d)

	d, err = parseEvery(" 30s ")
	require.NoError(t, err)
	assert.Equal(t, 30*time.Second, d)

	_, err = parseEvery("0s")
	assert.Error(t, err)
	_, err = parseEvery("often")
	assert.Error(t, err)
}

func TestSplitList(t *testing.T) {
	assert.Equal(t, []string{"http://a", "http://b"}, splitList(" http://a, ,http://b "))
	assert.Nil(t, splitList(""))
}
