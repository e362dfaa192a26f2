package session

import "sort"

// Action names understood by the request dispatcher.
const (
	ActionPing        = "ping"
	ActionLogin       = "login"
	ActionLogout      = "logout"
	ActionRegister    = "register"
	ActionListDoctors = "list_doctors"
	ActionSearchName  = "search_name"
	ActionSearchDept  = "search_dept"
	ActionListScheds  = "list_schedules"
	ActionAvail       = "availability"

	ActionBook          = "book"
	ActionCancel        = "cancel"
	ActionListMyAppts   = "list_my_appts"
	ActionWhoAmI        = "whoami"
	ActionUpdateAccount = "update_account"
	ActionDeleteAccount = "delete_account"
	ActionSubscribe     = "subscribe"
	ActionUnsubscribe   = "unsubscribe"

	ActionAddDoctor      = "add_doctor"
	ActionUpdateDoctor   = "update_doctor"
	ActionAddSchedule    = "add_schedule"
	ActionListAppts      = "list_appts"
	ActionScheduleReport = "schedule_report"
)

// Requirement is what a session must satisfy to invoke an action.
type Requirement int

const (
	RequireNone Requirement = iota
	RequireAuthenticated
	RequireAdmin
)

func (r Requirement) String() string {
	switch r {
	case RequireNone:
		return "none"
	case RequireAuthenticated:
		return "authenticated"
	case RequireAdmin:
		return "admin"
	default:
		return "unknown"
	}
}

// Decision is the outcome of Authorize.
type Decision int

const (
	Allowed Decision = iota
	AuthRequired
	Forbidden
)

func (d Decision) String() string {
	switch d {
	case Allowed:
		return "allowed"
	case AuthRequired:
		return "auth_required"
	case Forbidden:
		return "forbidden"
	default:
		return "unknown"
	}
}

var requirements = map[string]Requirement{
	ActionPing:        RequireNone,
	ActionLogin:       RequireNone,
	ActionLogout:      RequireNone,
	ActionRegister:    RequireNone,
	ActionListDoctors: RequireNone,
	ActionSearchName:  RequireNone,
	ActionSearchDept:  RequireNone,
	ActionListScheds:  RequireNone,
	ActionAvail:       RequireNone,

	ActionBook:          RequireAuthenticated,
	ActionCancel:        RequireAuthenticated,
	ActionListMyAppts:   RequireAuthenticated,
	ActionWhoAmI:        RequireAuthenticated,
	ActionUpdateAccount: RequireAuthenticated,
	ActionDeleteAccount: RequireAuthenticated,
	ActionSubscribe:     RequireAuthenticated,
	ActionUnsubscribe:   RequireAuthenticated,

	ActionAddDoctor:      RequireAdmin,
	ActionUpdateDoctor:   RequireAdmin,
	ActionAddSchedule:    RequireAdmin,
	ActionListAppts:      RequireAdmin,
	ActionScheduleReport: RequireAdmin,
}

// RequirementFor looks up the requirement for action. ok is false for
// actions the gate does not know.
func RequirementFor(action string) (req Requirement, ok bool) {
	req, ok = requirements[action]
	return req, ok
}

// Known reports whether action appears in the authorization table.
func Known(action string) bool {
	_, ok := requirements[action]
	return ok
}

// Actions returns every known action name, sorted.
func Actions() []string {
	out := make([]string, 0, len(requirements))
	for a := range requirements {
		out = append(out, a)
	}
	sort.Strings(out)
	return out
}

// Authorize decides whether s may invoke action. Unknown actions are
// Forbidden.
func Authorize(s *Session, action string) Decision {
	req, ok := requirements[action]
	if !ok {
		return Forbidden
	}

	switch req {
	case RequireNone:
		return Allowed
	case RequireAuthenticated:
		if !s.Authenticated() {
			return AuthRequired
		}
		return Allowed
	case RequireAdmin:
		if !s.Authenticated() {
			return AuthRequired
		}
		if s.Role != RoleAdmin {
			return Forbidden
		}
		return Allowed
	}
	return Forbidden
}
