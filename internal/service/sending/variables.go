package sending

import (
	"strings"

	"github.com/ignite/learner-crm/internal/domain"
)

// Links are the platform URLs exposed to every template.
type Links struct {
	BaseURL string
}

func (l Links) url(path string) string {
	return strings.TrimRight(l.BaseURL, "/") + path
}

func (l Links) defaults() map[string]any {
	return map[string]any{
		"dashboard_url":   l.url("/dashboard"),
		"quests_url":      l.url("/quests"),
		"preferences_url": l.url("/settings/notifications"),
		"unsubscribe_url": l.url("/settings/notifications?unsubscribe=marketing"),
	}
}

// UserVariables builds the template variables for a known learner.
func (l Links) UserVariables(u *domain.User) map[string]any {
	vars := l.defaults()
	vars["user_id"] = u.ID
	vars["email"] = u.Email
	vars["user_name"] = u.Greeting()
	vars["display_name"] = u.DisplayName
	vars["first_name"] = u.FirstName
	vars["total_xp"] = u.TotalXP
	vars["role"] = u.Role
	return vars
}

// ContactVariables builds template variables for a bare address with no
// learner account behind it. Caller-supplied values win over defaults.
func (l Links) ContactVariables(email string, extra map[string]any) map[string]any {
	vars := l.defaults()
	vars["user_name"] = "there"
	for k, v := range extra {
		vars[k] = v
	}
	vars["email"] = email
	return vars
}
