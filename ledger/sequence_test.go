package ledger

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNamespace_Format(t *testing.T) {
	assert.Equal(t, "DEPO0000000001", NamespaceDeposit.Format(1))
	assert.Equal(t, "DHIS0000000042", NamespaceHistory.Format(42))
	assert.Equal(t, "RFND1234567890", NamespaceRefund.Format(1234567890))
}

func TestNamespace_Parse(t *testing.T) {
	tests := []struct {
		id   string
		want int64
	}{
		{"DEPO0000000007", 7},
		{"DEPO0000000000", 0},
		{"DHIS0000000007", 0}, // other namespace
		{"DEPOabc", 0},
		{"DEPO", 0},
		{"DEPO-000000001", 0},
		{"", 0},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, NamespaceDeposit.Parse(tt.id), tt.id)
	}
}

func TestNamespace_MaxSuffix_SkipsMalformed(t *testing.T) {
	ids := []string{"DEPO0000000003", "DEPOlegacy", "DEPO0000000011", "DEPO0000000002"}
	assert.Equal(t, int64(11), NamespaceDeposit.MaxSuffix(ids))
	assert.Equal(t, int64(0), NamespaceDeposit.MaxSuffix(nil))
}

func TestNamespace_FormatSortsNumerically(t *testing.T) {
	assert.Less(t, NamespaceDeposit.Format(9), NamespaceDeposit.Format(10))
	assert.Less(t, NamespaceDeposit.Format(99), NamespaceDeposit.Format(100))
}
