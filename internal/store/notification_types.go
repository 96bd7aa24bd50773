package store

// Notification type names. The rows themselves are seeded by migration.
const (
	NotifyTaskCompleted      = "task.completed"
	NotifyTaskUpdated        = "task.updated"
	NotifyTaskCreated        = "task.created"
	NotifyTaskDeleted        = "task.deleted"
	NotifyTaskMovedWorkspace = "task.moved_workspace"
	NotifyMemberAdded        = "member.added"
	NotifyMemberRemoved      = "member.removed"
	NotifyMemberRoleChanged  = "member.role_changed"
	NotifyInvitationReceived = "invitation.received"
	NotifyInvitationAccepted = "invitation.accepted"
	NotifyGroupMemberAdded   = "group.member_added"
)

const ChannelInApp = "in_app"

// DefaultNotificationTypes mirrors the seed migration so non-SQL backends
// start with the same catalogue.
func DefaultNotificationTypes() []NotificationType {
	def := func(name, description, template string, mandatory bool) NotificationType {
		return NotificationType{
			Name:            name,
			Description:     description,
			Template:        template,
			DefaultChannels: []string{ChannelInApp},
			IsMandatory:     mandatory,
		}
	}
	return []NotificationType{
		def(NotifyTaskCompleted, "A task was completed", `{actor_name} completed "{entity_title}"`, false),
		def(NotifyTaskUpdated, "A task was updated", `{actor_name} updated "{entity_title}"`, false),
		def(NotifyTaskCreated, "A task was created", `{actor_name} created "{entity_title}"`, false),
		def(NotifyTaskDeleted, "A task was deleted", `{actor_name} deleted "{entity_title}"`, false),
		def(NotifyTaskMovedWorkspace, "A task moved between workspaces", `{actor_name} moved "{entity_title}"`, false),
		def(NotifyMemberAdded, "You were added to a workspace", `{actor_name} added you to workspace "{workspace_name}"`, true),
		def(NotifyMemberRemoved, "You were removed from a workspace", `You were removed from workspace "{workspace_name}"`, true),
		def(NotifyMemberRoleChanged, "Your workspace role changed", `Your role in "{workspace_name}" was changed to {new_role}`, true),
		def(NotifyInvitationReceived, "You were invited to a workspace", `{actor_name} invited you to join "{workspace_name}"`, true),
		def(NotifyInvitationAccepted, "Your invitation was accepted", `{actor_name} accepted your invitation to "{workspace_name}"`, false),
		def(NotifyGroupMemberAdded, "You were added to a group", `{actor_name} added you to group "{group_name}"`, false),
	}
}
