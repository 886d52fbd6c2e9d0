package app

// Command はアプリケーションの起動モードを表す。
type Command string

const (
	// CommandServe はAPIサーバーとして起動する。
	CommandServe Command = "serve"
	// CommandWorker は利用量リセットと契約失効を定期実行するワーカーとして起動する。
	CommandWorker Command = "worker"
	// CommandMigrate はスキーマを最新版まで適用して終了する。
	CommandMigrate Command = "migrate"
	// CommandResetUsage は期限の来た利用量台帳を1回だけリセットして終了する。
	// 外部スケジューラから呼び出す用途。
	CommandResetUsage Command = "reset-usage"
	// CommandExpireSubscriptions は期間終了した解約済み契約を1回だけ失効させて終了する。
	CommandExpireSubscriptions Command = "expire-subscriptions"
	// CommandHealthcheck はdistroless環境でのDockerヘルスチェック用。
	CommandHealthcheck Command = "healthcheck"
)

var knownCommands = map[string]Command{
	string(CommandServe):               CommandServe,
	string(CommandWorker):              CommandWorker,
	string(CommandMigrate):             CommandMigrate,
	string(CommandResetUsage):          CommandResetUsage,
	string(CommandExpireSubscriptions): CommandExpireSubscriptions,
	string(CommandHealthcheck):         CommandHealthcheck,
}

// ParseCommand はコマンドライン引数の先頭からサブコマンドを解析する。
// 引数が空またはサポート外のコマンドの場合はCommandServeを返す。
func ParseCommand(args []string) Command {
	if len(args) == 0 {
		return CommandServe
	}
	if cmd, ok := knownCommands[args[0]]; ok {
		return cmd
	}
	return CommandServe
}
