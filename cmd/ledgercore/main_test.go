package main

import (
	"testing"

	"github.com/stretchr/testify/require"

	ledgermysql "github.com/wyfcoding/ledgercore/internal/ledger/infrastructure/persistence/mysql"
)

func TestMigrationsCoverLedgerTables(t *testing.T) {
	var hasAccount, hasLock, hasTransaction bool
	for _, po := range migrations() {
		switch po.(type) {
		case *ledgermysql.AccountPO:
			hasAccount = true
		case *ledgermysql.LockPO:
			hasLock = true
		case *ledgermysql.TransactionPO:
			hasTransaction = true
		}
	}
	require.True(t, hasAccount)
	require.True(t, hasLock)
	// 划转与执行锁在同一事务里写流水表，漏迁移会让首笔划转即告失败。
	require.True(t, hasTransaction)
}
