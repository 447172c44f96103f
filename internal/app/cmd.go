package app

import (
	"fmt"
	"io"
)

// Command はアプリケーションの起動モードを表す。
type Command string

const (
	// CommandServe はAPIサーバー（BFF）として起動する。
	CommandServe Command = "serve"
	// CommandWorker は採用フィードの取り込みとクリーンアップを実行する。
	CommandWorker Command = "worker"
	// CommandMigrate はデータベースマイグレーションを実行する。
	CommandMigrate Command = "migrate"
	// CommandHealthcheck は/healthを叩いて終了する。distroless環境のDockerヘルスチェック用。
	CommandHealthcheck Command = "healthcheck"
	// CommandHelp はサブコマンドの一覧を表示する。
	CommandHelp Command = "help"
)

// commands は表示順のサブコマンド一覧。
var commands = []struct {
	cmd  Command
	desc string
}{
	{CommandServe, "APIサーバーを起動する（デフォルト）"},
	{CommandWorker, "採用フィードの取り込みと期限切れデータの削除を実行する"},
	{CommandMigrate, "データベースマイグレーションを適用する"},
	{CommandHealthcheck, "ローカルの/healthを確認する"},
	{CommandHelp, "このヘルプを表示する"},
}

// ParseCommand はコマンドライン引数の先頭からサブコマンドを解析する。
// 引数が空またはサポート外のコマンドの場合はCommandServeを返す。
func ParseCommand(args []string) Command {
	if len(args) == 0 {
		return CommandServe
	}
	name := args[0]
	if name == "-h" || name == "--help" {
		return CommandHelp
	}
	for _, c := range commands {
		if string(c.cmd) == name {
			return c.cmd
		}
	}
	return CommandServe
}

// printUsage はサブコマンドの一覧を書き込む。
func printUsage(w io.Writer) {
	fmt.Fprintln(w, "usage: jobboard <command>")
	fmt.Fprintln(w)
	for _, c := range commands {
		fmt.Fprintf(w, "  %-12s %s\n", c.cmd, c.desc)
	}
}
