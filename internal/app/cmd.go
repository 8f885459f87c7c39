package app

// Command はCLIのサブコマンドを表す。
type Command string

const (
	// CommandLogin はメールアドレスとパスワードでログインする。
	CommandLogin Command = "login"
	// CommandRegister は応募者アカウントを新規登録する。
	CommandRegister Command = "register"
	// CommandLogout はセッションを終了し、保存済み認証情報を削除する。
	CommandLogout Command = "logout"
	// CommandMe は現在のユーザー情報を表示する。
	CommandMe Command = "me"
	// CommandJobs は求人の一覧・作成・更新・削除・公開状態変更・集計を行う。
	CommandJobs Command = "jobs"
	// CommandApply は求人に履歴書を添えて応募する。
	CommandApply Command = "apply"
	// CommandApplications は応募の一覧・選考状態変更・取り下げ・ダウンロードを行う。
	CommandApplications Command = "applications"
	// CommandUsers は管理者によるユーザー管理を行う。
	CommandUsers Command = "users"
	// CommandDashboard は管理ダッシュボードを表示する。
	CommandDashboard Command = "dashboard"
	// CommandHelp は使い方を表示する。
	CommandHelp Command = "help"
)

// ParseCommand はコマンドライン引数からサブコマンドを解析する。
// 引数が空またはサポート外のコマンドの場合はCommandHelpを返す。
func ParseCommand(args []string) Command {
	if len(args) == 0 {
		return CommandHelp
	}

	switch args[0] {
	case "login":
		return CommandLogin
	case "register":
		return CommandRegister
	case "logout":
		return CommandLogout
	case "me":
		return CommandMe
	case "jobs":
		return CommandJobs
	case "apply":
		return CommandApply
	case "applications":
		return CommandApplications
	case "users":
		return CommandUsers
	case "dashboard":
		return CommandDashboard
	default:
		return CommandHelp
	}
}
