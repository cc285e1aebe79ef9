package repository

import (
	"database/sql"
	"fmt"

	"github.com/google/uuid"
)

// sqlTx は Tx を *sql.Tx として取り出す。
func sqlTx(tx Tx) (*sql.Tx, error) {
	t, ok := tx.(*sql.Tx)
	if !ok || t == nil {
		return nil, fmt.Errorf("unsupported transaction type %T", tx)
	}
	return t, nil
}

// validID はUUIDとして解釈できるかを返す。
// UUID列に不正な文字列を渡すとPostgreSQLが型エラーを返すため、問い合わせ前に弾く。
func validID(id string) bool {
	_, err := uuid.Parse(id)
	return err == nil
}

// validIDs はUUIDとして解釈できるものだけを返す。
func validIDs(ids []string) []string {
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		if validID(id) {
			out = append(out, id)
		}
	}
	return out
}
