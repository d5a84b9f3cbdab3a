package store

import (
	"encoding"
	"encoding/binary"

	"github.com/vmihailenco/msgpack/v5"
)

type Storeable interface {
	Key() []byte
	encoding.BinaryMarshaler
	encoding.BinaryUnmarshaler
}

type DBUser struct {
	ID           string `msgpack:"id"`
	UserName     string `msgpack:"userName"`
	DisplayName  string `msgpack:"displayName"`
	AvatarURL    string `msgpack:"avatarUrl"`
	LastSeen     int64  `msgpack:"lastSeen"`
	PasswordHash string `msgpack:"passwordHash"`
	Status       string `msgpack:"status"`
}

func (u *DBUser) Key() []byte {
	return []byte(u.ID)
}

func (u *DBUser) MarshalBinary() (data []byte, err error) {
	type alias DBUser
	return msgpack.Marshal((*alias)(u))
}

func (u *DBUser) UnmarshalBinary(data []byte) error {
	type alias DBUser
	return msgpack.Unmarshal(data, (*alias)(u))
}

type DBToken struct {
	UserID string `msgpack:"userId"`
	Token  string `msgpack:"token"`
}

// Key is the token hash, so one user can hold several live sessions.
func (t *DBToken) Key() []byte {
	return []byte(t.Token)
}

func (t *DBToken) MarshalBinary() (data []byte, err error) {
	type alias DBToken
	return msgpack.Marshal((*alias)(t))
}

func (t *DBToken) UnmarshalBinary(data []byte) error {
	type alias DBToken
	return msgpack.Unmarshal(data, (*alias)(t))
}

type DBConversation struct {
	ID             string   `msgpack:"id"`
	Kind           string   `msgpack:"kind"`
	Name           string   `msgpack:"name"`
	ParticipantIDs []string `msgpack:"participantIds"`
	CreatedBy      string   `msgpack:"createdBy"`
	CreatedAt      int64    `msgpack:"createdAt"`
	LastActivityAt int64    `msgpack:"lastActivityAt"`
}

func (c *DBConversation) Key() []byte {
	return []byte(c.ID)
}

func (c *DBConversation) MarshalBinary() (data []byte, err error) {
	type alias DBConversation
	return msgpack.Marshal((*alias)(c))
}

func (c *DBConversation) UnmarshalBinary(data []byte) error {
	type alias DBConversation
	return msgpack.Unmarshal(data, (*alias)(c))
}

type DBAttachment struct {
	Name     string `msgpack:"name"`
	MimeType string `msgpack:"mimeType"`
	FileID   string `msgpack:"fileId"`
	Size     int64  `msgpack:"size"`
}

type DBMessage struct {
	ID             string        `msgpack:"id"`
	Seq            int64         `msgpack:"seq"`
	ConversationID string        `msgpack:"conversationId"`
	SenderID       string        `msgpack:"senderId"`
	Content        string        `msgpack:"content"`
	Attachment     *DBAttachment `msgpack:"attachment"`
	IsRead         bool          `msgpack:"isRead"`
	CreatedAt      int64         `msgpack:"createdAt"`
}

// Key orders messages by sequence within their conversation sub-bucket.
func (m *DBMessage) Key() []byte {
	key := make([]byte, 8)
	binary.BigEndian.PutUint64(key, uint64(m.Seq))
	return key
}

func (m *DBMessage) MarshalBinary() (data []byte, err error) {
	type alias DBMessage
	return msgpack.Marshal((*alias)(m))
}

func (m *DBMessage) UnmarshalBinary(data []byte) error {
	type alias DBMessage
	return msgpack.Unmarshal(data, (*alias)(m))
}

// DBMessageRef locates a message row from its id (message_index bucket).
type DBMessageRef struct {
	ConversationID string `msgpack:"conversationId"`
	Seq            int64  `msgpack:"seq"`
}

func (r *DBMessageRef) MarshalBinary() (data []byte, err error) {
	type alias DBMessageRef
	return msgpack.Marshal((*alias)(r))
}

func (r *DBMessageRef) UnmarshalBinary(data []byte) error {
	type alias DBMessageRef
	return msgpack.Unmarshal(data, (*alias)(r))
}

type DBReaction struct {
	MessageID string `msgpack:"messageId"`
	UserID    string `msgpack:"userId"`
	Emoji     string `msgpack:"emoji"`
}

func (r *DBReaction) Key() []byte {
	return reactionKey(r.MessageID, r.UserID)
}

func (r *DBReaction) MarshalBinary() (data []byte, err error) {
	type alias DBReaction
	return msgpack.Marshal((*alias)(r))
}

func (r *DBReaction) UnmarshalBinary(data []byte) error {
	type alias DBReaction
	return msgpack.Unmarshal(data, (*alias)(r))
}

type DBPresence struct {
	UserID    string `msgpack:"userId"`
	Online    bool   `msgpack:"online"`
	UpdatedAt int64  `msgpack:"updatedAt"`
}

func (p *DBPresence) Key() []byte {
	return []byte(p.UserID)
}

func (p *DBPresence) MarshalBinary() (data []byte, err error) {
	type alias DBPresence
	return msgpack.Marshal((*alias)(p))
}

func (p *DBPresence) UnmarshalBinary(data []byte) error {
	type alias DBPresence
	return msgpack.Unmarshal(data, (*alias)(p))
}

type DBCallSession struct {
	ID             string `msgpack:"id"`
	ConversationID string `msgpack:"conversationId"`
	CallerID       string `msgpack:"callerId"`
	CalleeID       string `msgpack:"calleeId"`
	Type           string `msgpack:"type"`
	Status         string `msgpack:"status"`
	StartedAt      int64  `msgpack:"startedAt"`
	AnsweredAt     int64  `msgpack:"answeredAt"`
	EndedAt        int64  `msgpack:"endedAt"`
}

func (c *DBCallSession) Key() []byte {
	return []byte(c.ID)
}

func (c *DBCallSession) MarshalBinary() (data []byte, err error) {
	type alias DBCallSession
	return msgpack.Marshal((*alias)(c))
}

func (c *DBCallSession) UnmarshalBinary(data []byte) error {
	type alias DBCallSession
	return msgpack.Unmarshal(data, (*alias)(c))
}

type DBPushSubscription struct {
	UserID    string `msgpack:"userId"`
	Endpoint  string `msgpack:"endpoint"`
	P256dh    string `msgpack:"p256dh"`
	Auth      string `msgpack:"auth"`
	CreatedAt int64  `msgpack:"createdAt"`
}

func (p *DBPushSubscription) Key() []byte {
	return compositeKey(p.UserID, p.Endpoint)
}

func (p *DBPushSubscription) MarshalBinary() (data []byte, err error) {
	type alias DBPushSubscription
	return msgpack.Marshal((*alias)(p))
}

func (p *DBPushSubscription) UnmarshalBinary(data []byte) error {
	type alias DBPushSubscription
	return msgpack.Unmarshal(data, (*alias)(p))
}

type DBFile struct {
	ID        string `msgpack:"id"`
	Hash      string `msgpack:"hash"`
	Name      string `msgpack:"name"`
	MimeType  string `msgpack:"mimeType"`
	Size      int64  `msgpack:"size"`
	CreatedAt int64  `msgpack:"createdAt"`
	UserID    string `msgpack:"userId"`
}

func (f *DBFile) Key() []byte {
	return []byte(f.ID)
}

func (f *DBFile) MarshalBinary() (data []byte, err error) {
	type alias DBFile
	return msgpack.Marshal((*alias)(f))
}

func (f *DBFile) UnmarshalBinary(data []byte) error {
	type alias DBFile
	return msgpack.Unmarshal(data, (*alias)(f))
}

func reactionKey(messageID, userID string) []byte {
	return compositeKey(messageID, userID)
}

// compositeKey joins two id components with a NUL separator. IDs are UUIDs
// or URLs, neither contains NUL.
func compositeKey(a, b string) []byte {
	key := make([]byte, 0, len(a)+1+len(b))
	key = append(key, a...)
	key = append(key, 0)
	key = append(key, b...)
	return key
}
