package app

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/google/uuid"

	"lattices/api/internal/rbac"
)

type DomainError struct {
	Status  int
	Code    string
	Message string
	Details any
}

func (e *DomainError) Error() string {
	if e == nil {
		return ""
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func domainError(status int, code, message string, details any) *DomainError {
	return &DomainError{
		Status:  status,
		Code:    code,
		Message: message,
		Details: details,
	}
}

const (
	CodeValidation              = "VALIDATION_ERROR"
	CodeWorkspaceNotFound       = "WORKSPACE_NOT_FOUND"
	CodeTaskNotFound            = "TASK_NOT_FOUND"
	CodeTagNotFound             = "TAG_NOT_FOUND"
	CodeGroupNotFound           = "GROUP_NOT_FOUND"
	CodeGroupMemberNotFound     = "GROUP_MEMBER_NOT_FOUND"
	CodeInvitationNotFound      = "INVITATION_NOT_FOUND"
	CodeNotificationNotFound    = "NOTIFICATION_NOT_FOUND"
	CodeNotAMember              = "NOT_A_MEMBER"
	CodeInsufficientPermissions = "INSUFFICIENT_PERMISSIONS"
	CodeWorkspaceMoveInvalid    = "WORKSPACE_MOVE_INVALID"
	CodeDuplicateTag            = "DUPLICATE_TAG"
	CodeSlugTaken               = "WORKSPACE_SLUG_TAKEN"
	CodeAlreadyAMember          = "ALREADY_A_MEMBER"
	CodeAlreadyAGroupMember     = "ALREADY_A_GROUP_MEMBER"
	CodeDuplicateInvitation     = "DUPLICATE_INVITATION"
	CodeInvitationAccepted      = "INVITATION_ALREADY_ACCEPTED"
	CodeInvitationExpired       = "INVITATION_EXPIRED"
	CodeInvitationEmailMismatch = "INVITATION_EMAIL_MISMATCH"
	CodeCircularReference       = "CIRCULAR_REFERENCE"
	CodeLastOwner               = "LAST_OWNER"
	CodeLastWorkspace           = "LAST_WORKSPACE"
)

// IsCode reports whether err is a DomainError carrying code.
func IsCode(err error, code string) bool {
	var domainErr *DomainError
	return errors.As(err, &domainErr) && domainErr.Code == code
}

func ids(pairs ...any) map[string]any {
	out := make(map[string]any, len(pairs)/2)
	for i := 0; i+1 < len(pairs); i += 2 {
		out[fmt.Sprint(pairs[i])] = pairs[i+1]
	}
	return out
}

func validationError(message string) *DomainError {
	return domainError(http.StatusUnprocessableEntity, CodeValidation, message, nil)
}

func workspaceNotFound(id uuid.UUID) *DomainError {
	return domainError(http.StatusNotFound, CodeWorkspaceNotFound, "Workspace not found", ids("workspace_id", id))
}

func todoNotFound(id uuid.UUID) *DomainError {
	return domainError(http.StatusNotFound, CodeTaskNotFound, "Task not found", ids("todo_id", id))
}

func tagNotFound(id uuid.UUID) *DomainError {
	return domainError(http.StatusNotFound, CodeTagNotFound, "Tag not found", ids("tag_id", id))
}

func groupNotFound(id uuid.UUID) *DomainError {
	return domainError(http.StatusNotFound, CodeGroupNotFound, "Group not found", ids("group_id", id))
}

func groupMemberNotFound(groupID, userID uuid.UUID) *DomainError {
	return domainError(http.StatusNotFound, CodeGroupMemberNotFound, "User is not a member of this group", ids("group_id", groupID, "user_id", userID))
}

func invitationNotFound() *DomainError {
	return domainError(http.StatusNotFound, CodeInvitationNotFound, "Invitation not found", nil)
}

func notificationNotFound(recipientID int64) *DomainError {
	return domainError(http.StatusNotFound, CodeNotificationNotFound, "Notification not found", ids("recipient_id", recipientID))
}

func notAMember(workspaceID, userID uuid.UUID) *DomainError {
	return domainError(http.StatusForbidden, CodeNotAMember, "Not a member of this workspace", ids("workspace_id", workspaceID, "user_id", userID))
}

func insufficientPermissions(required string) *DomainError {
	return domainError(http.StatusForbidden, CodeInsufficientPermissions, "Insufficient permissions: requires "+required, ids("required_role", required))
}

func requiresRole(role rbac.Role) *DomainError {
	return insufficientPermissions(role.String())
}

func cannotChangeOwnRole(workspaceID, userID uuid.UUID) *DomainError {
	return domainError(http.StatusForbidden, CodeInsufficientPermissions, "Cannot change your own role", ids("workspace_id", workspaceID, "user_id", userID))
}

func workspaceMoveInvalid(message string) *DomainError {
	return domainError(http.StatusForbidden, CodeWorkspaceMoveInvalid, message, nil)
}

func duplicateTag(name string) *DomainError {
	return domainError(http.StatusConflict, CodeDuplicateTag, "Tag already exists", ids("name", name))
}

func slugTaken(slug string) *DomainError {
	return domainError(http.StatusConflict, CodeSlugTaken, "Workspace slug already taken", ids("slug", slug))
}

func alreadyAMember(workspaceID, userID uuid.UUID) *DomainError {
	return domainError(http.StatusConflict, CodeAlreadyAMember, "User is already a member of this workspace", ids("workspace_id", workspaceID, "user_id", userID))
}

func alreadyAGroupMember(groupID, userID uuid.UUID) *DomainError {
	return domainError(http.StatusConflict, CodeAlreadyAGroupMember, "User is already a member of this group", ids("group_id", groupID, "user_id", userID))
}

func duplicateInvitation(email string) *DomainError {
	return domainError(http.StatusConflict, CodeDuplicateInvitation, "A pending invitation already exists for this email", ids("email", email))
}

func invitationAlreadyAccepted() *DomainError {
	return domainError(http.StatusConflict, CodeInvitationAccepted, "Invitation has already been accepted", nil)
}

func invitationExpired() *DomainError {
	return domainError(http.StatusGone, CodeInvitationExpired, "Invitation has expired", nil)
}

func invitationEmailMismatch() *DomainError {
	return domainError(http.StatusForbidden, CodeInvitationEmailMismatch, "Invitation was sent to a different email address", nil)
}

func circularReference() *DomainError {
	return domainError(http.StatusBadRequest, CodeCircularReference, "Cannot move task to its own descendant", nil)
}

func lastOwner(workspaceID uuid.UUID) *DomainError {
	return domainError(http.StatusConflict, CodeLastOwner, "Workspace must keep at least one owner", ids("workspace_id", workspaceID))
}

func lastWorkspace() *DomainError {
	return domainError(http.StatusConflict, CodeLastWorkspace, "Cannot leave or delete your only workspace", nil)
}
