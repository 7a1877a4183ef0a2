package cache

import "fmt"

func RoomKey(roomID int64) string {
	return fmt.Sprintf("room:%d", roomID)
}

func SpecialRoomKey(specialRoomID int64) string {
	return fmt.Sprintf("specialRoom:%d", specialRoomID)
}

func SpecialRoomPlayersKey(specialRoomID int64) string {
	return fmt.Sprintf("specialRoom:%d:players", specialRoomID)
}

// CreateRoomFlagKey short-circuits repeated successor-room attempts for a category.
func CreateRoomFlagKey(category string) string {
	return "create-room:" + category
}

// CreateResponseFlagKey marks a response from userID as in flight.
func CreateResponseFlagKey(userID int64) string {
	return fmt.Sprintf("create-response:%d", userID)
}

// JoinFlagKey drops repeated joinRoom clicks for the same room.
func JoinFlagKey(userID, roomID int64) string {
	return fmt.Sprintf("join:%d:%d", userID, roomID)
}
