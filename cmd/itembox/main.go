// Command itembox はアイテム管理APIサーバーとバックグラウンドワーカーを起動する。
package main

import (
	"fmt"
	"os"

	"github.com/hitoshi/itembox/internal/app"
)

func main() {
	if err := app.Run(os.Stdout, os.Args[1:]); err != nil {
		fmt.Fprintf(os.Stderr, "itembox: %v\n", err)
		os.Exit(1)
	}
}
