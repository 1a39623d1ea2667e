package domain

type RoomName string

const MaxRoomNameLen = 128
