package core

import "github.com/vovakirdan/wiredm-server/internal/store"

func isParticipant(msg *store.Message, userID int64) bool {
	return userID == msg.SenderID || userID == msg.ReceiverID
}

// CanSoftDelete reports whether userID may hide msg from their own view.
func CanSoftDelete(msg *store.Message, userID int64) bool {
	return isParticipant(msg, userID)
}

// CanHardDelete reports whether userID may delete msg for both participants.
func CanHardDelete(msg *store.Message, userID int64) bool {
	return userID == msg.SenderID
}

// CanReact reports whether userID may react to msg.
func CanReact(msg *store.Message, userID int64) bool {
	return isParticipant(msg, userID)
}

// CanView reports whether msg is visible to userID.
func CanView(msg *store.Message, userID int64) bool {
	return isParticipant(msg, userID) && !msg.IsHiddenFor(userID)
}
