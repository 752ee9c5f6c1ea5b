package app

// Command は起動サブコマンドを表す。
type Command string

const (
	// CommandServe はAPIサーバーとして起動する。
	CommandServe Command = "serve"
	// CommandWorker は定期同期・削除ジョブのワーカーとして起動する。
	CommandWorker Command = "worker"
	// CommandMigrate はデータベースマイグレーションを適用して終了する。
	CommandMigrate Command = "migrate"
	// CommandHealthcheck は稼働中サーバーの/healthを確認して終了する。
	// シェルを持たないdistrolessイメージのHEALTHCHECK用。
	CommandHealthcheck Command = "healthcheck"
)

// ParseCommand は先頭引数をサブコマンドとして解釈する。
// 引数なし・未知のサブコマンドはserve扱い。
func ParseCommand(args []string) Command {
	if len(args) == 0 {
		return CommandServe
	}

	switch Command(args[0]) {
	case CommandWorker, CommandMigrate, CommandHealthcheck:
		return Command(args[0])
	default:
		return CommandServe
	}
}
