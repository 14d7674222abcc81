package enum

type ExchangeProtocol string

const (
	ProtocolEWS ExchangeProtocol = "ews"
	ProtocolOWA ExchangeProtocol = "owa"
)

func (p ExchangeProtocol) String() string {
	return string(p)
}

func (p ExchangeProtocol) IsValid() bool {
	return p == ProtocolEWS || p == ProtocolOWA
}

type AuthMethod string

const (
	AuthBasic  AuthMethod = "basic"
	AuthOAuth2 AuthMethod = "oauth2"
)

func (a AuthMethod) String() string {
	return string(a)
}

func (a AuthMethod) IsValid() bool {
	return a == AuthBasic || a == AuthOAuth2
}

type ConnectionStatus string

const (
	ConnectionPending       ConnectionStatus = "pending"
	ConnectionActive        ConnectionStatus = "active"
	ConnectionLoginRequired ConnectionStatus = "login_required"
	ConnectionFailed        ConnectionStatus = "failed"
	ConnectionStopped       ConnectionStatus = "stopped"
)

func (s ConnectionStatus) String() string {
	return string(s)
}

type MailEventType string

const (
	MailEventNew     MailEventType = "new"
	MailEventUpdated MailEventType = "updated"
	MailEventDeleted MailEventType = "deleted"
	MailEventFolders MailEventType = "folders"
)

func (t MailEventType) String() string {
	return string(t)
}
