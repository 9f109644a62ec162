package permission

import (
	"testing"

	"github.com/cockroachdb/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestIsLocalhostAddress(t *testing.T) {
	for addr, want := range map[string]bool{
		"127.0.0.1":        true,
		"::1":              true,
		"::ffff:127.0.0.1": true,
		" 127.0.0.1 ":      true,
		"":                 false,
		"8.8.8.8":          false,
		"127.0.0.2":        false,
		"localhost":        false,
		"127.0.0.1:8080":   false,
		"0:0:0:0:0:0:0:1":  false,
		"10.0.0.1":         false,
	} {
		assert.Equal(t, want, IsLocalhostAddress(addr), "addr %q", addr)
	}
}

func TestAuthorizeAdmin(t *testing.T) {
	assert.True(t, AuthorizeAdmin([]string{"check_permission"}, "8.8.8.8").Allowed)
	assert.True(t, AuthorizeAdmin([]string{OpEnableService}, "127.0.0.1").Allowed)

	d := AuthorizeAdmin([]string{"tools/call", OpResetConfig}, "192.168.1.5")
	assert.False(t, d.Allowed)
	assert.Contains(t, d.Reason, OpResetConfig)

	assert.False(t, AuthorizeAdmin([]string{OpAuditVerify}, "").Allowed)
}

func TestAdminOperationsSorted(t *testing.T) {
	ops := AdminOperations()
	require.Len(t, ops, 8)
	for i := 1; i < len(ops); i++ {
		assert.Less(t, ops[i-1], ops[i])
	}
	for _, op := range ops {
		assert.True(t, IsAdminOperation(op))
	}
	assert.False(t, IsAdminOperation("check_permission"))
}

func TestRequestedOperations(t *testing.T) {
	tests := []struct {
		name string
		body string
		want []string
	}{
		{"initialize", `{"jsonrpc":"2.0","id":1,"method":"initialize","params":{}}`, []string{"initialize"}},
		{"tool call", `{"jsonrpc":"2.0","id":2,"method":"tools/call","params":{"name":"admin_reset_config","arguments":{}}}`, []string{"tools/call", "admin_reset_config"}},
		{"notification", `{"jsonrpc":"2.0","method":"notifications/initialized"}`, []string{"notifications/initialized"}},
		{"response", `{"jsonrpc":"2.0","id":7,"result":{}}`, nil},
		{"batch", `[{"jsonrpc":"2.0","id":1,"method":"tools/list"},{"jsonrpc":"2.0","id":2,"method":"tools/call","params":{"name":"check_permission"}}]`, []string{"tools/list", "tools/call", "check_permission"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ops, err := RequestedOperations([]byte(tt.body))
			require.NoError(t, err)
			assert.Equal(t, tt.want, ops)
		})
	}
}

func TestRequestedOperationsFailsClosed(t *testing.T) {
	bodies := map[string]string{
		"empty":               "",
		"not json":            "hello",
		"truncated":           `{"jsonrpc":"2.0","method":"tools/call","params":{"name":`,
		"empty batch":         `[]`,
		"batch of scalars":    `[1, 2]`,
		"no method or result": `{"jsonrpc":"2.0","id":1}`,
		"method not string":   `{"jsonrpc":"2.0","id":1,"method":42}`,
		"call without params": `{"jsonrpc":"2.0","id":1,"method":"tools/call"}`,
		"params not object":   `{"jsonrpc":"2.0","id":1,"method":"tools/call","params":["admin_reset_config"]}`,
		"name not string":     `{"jsonrpc":"2.0","id":1,"method":"tools/call","params":{"name":["admin_reset_config"]}}`,
		"missing name":        `{"jsonrpc":"2.0","id":1,"method":"tools/call","params":{"arguments":{}}}`,
		"one bad in batch":    `[{"jsonrpc":"2.0","id":1,"method":"tools/list"},"x"]`,
	}
	for name, body := range bodies {
		t.Run(name, func(t *testing.T) {
			_, err := RequestedOperations([]byte(body))
			require.Error(t, err)
			assert.True(t, errors.Is(err, ErrUnparseableRequest), "expected ErrUnparseableRequest, got %v", err)
		})
	}
}
