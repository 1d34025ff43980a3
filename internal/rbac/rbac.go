package rbac

type Role string
type Action string

const (
	RoleContributor Role = "contributor"
	RoleAdmin       Role = "admin"
)

const (
	// ActionWriteOwn covers drafting, submitting and amending one's own records.
	ActionWriteOwn   Action = "write_own"
	ActionReadOwn    Action = "read_own"
	ActionReadAll    Action = "read_all"
	ActionDelete     Action = "delete"
	ActionSettings   Action = "settings"
	ActionTranscribe Action = "transcribe"
)

func Can(role Role, action Action) bool {
	switch role {
	case RoleAdmin:
		return true
	case RoleContributor:
		return action == ActionReadOwn || action == ActionWriteOwn
	default:
		return false
	}
}

func Normalize(role string) Role {
	switch Role(role) {
	case RoleContributor, RoleAdmin:
		return Role(role)
	default:
		return RoleContributor
	}
}
