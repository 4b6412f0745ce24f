package discord

import (
	"slices"

	"github.com/bwmarrin/discordgo"
)

// PermissionChecker decides whether the invoking member may edit the shared
// pronunciation dictionary.
type PermissionChecker struct {
	editorRoleID string
}

// NewPermissionChecker creates a PermissionChecker for the given role ID.
func NewPermissionChecker(editorRoleID string) *PermissionChecker {
	return &PermissionChecker{editorRoleID: editorRoleID}
}

// CanEditDictionary reports whether the interaction author holds the editor
// role. If no role is configured every guild member may edit. Interactions
// without a Member (DMs) are always rejected.
func (p *PermissionChecker) CanEditDictionary(i *discordgo.InteractionCreate) bool {
	if i.Member == nil {
		return false
	}
	if p.editorRoleID == "" {
		return true
	}
	return slices.Contains(i.Member.Roles, p.editorRoleID)
}
