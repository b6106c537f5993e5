package domain

type ServerInfo struct {
	SessionUUID string `json:"sessionUuid"`
	APIVersion  int    `json:"apiVersion"`
}

func (i ServerInfo) IsZero() bool { return i.SessionUUID == "" }
