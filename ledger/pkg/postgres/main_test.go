package postgres_test

import (
	"context"
	"os"
	"testing"

	pgtesting "github.com/malbeclabs/poolparty/ledger/pkg/postgres/testing"
	pptesting "github.com/malbeclabs/poolparty/utils/pkg/testing"
)

var sharedDB *pgtesting.DB

func TestMain(m *testing.M) {
	log := pptesting.NewLogger()
	var err error
	sharedDB, err = pgtesting.NewDB(context.Background(), log, nil)
	if err != nil {
		log.Error("failed to create shared DB", "error", err)
		os.Exit(1)
	}
	code := m.Run()
	sharedDB.Close()
	os.Exit(code)
}
