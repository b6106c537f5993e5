package ws

// Типы событий WS
const (
	TypeTimeline = "timeline" // сервер → клиент: таймлайн изменился, перечитать /timeline
	TypeNearEnd  = "near_end" // клиент → сервер: докрутили до начала истории
	TypePage     = "page"     // сервер → клиент: результат подгрузки
	TypeChat     = "chat"     // клиент → сервер: новое сообщение
	TypeChatAck  = "chat_ack" // сервер → клиент: сообщение принято (отправлено или в очереди)
	TypeError    = "error"
)

type Message struct {
	Type    string `json:"type"`
	Payload any    `json:"payload,omitempty"`
}

type TimelinePayload struct {
	Revision uint64 `json:"revision"`
	Session  string `json:"session"`
	State    string `json:"state"`
	Online   bool   `json:"online"`
	Pending  int    `json:"pending"`
}

type PagePayload struct {
	Added   int  `json:"added"`
	HasMore bool `json:"hasMore"`
}

type ChatPayload struct {
	Text    string `json:"text"`
	ReplyTo string `json:"replyTo,omitempty"`
}

// для клиента: uuid либо локальный id, sent=false - сообщение ждёт в очереди
type ChatAckPayload struct {
	UUID string `json:"uuid"`
	Sent bool   `json:"sent"`
}

type ErrorPayload struct {
	Message string `json:"message"`
}
