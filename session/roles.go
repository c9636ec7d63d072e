package session

import (
	"github.com/pithecene-io/sluice/failure"
	"github.com/pithecene-io/sluice/msg"
)

// allowed lists the classes each role may send. A non-interactive
// provider only requests and closes its login stream.
var allowed = map[Role]map[msg.Class]bool{
	RoleConsumer: {
		msg.ClassRequest: true,
		msg.ClassClose:   true,
		msg.ClassPost:    true,
		msg.ClassGeneric: true,
	},
	RoleProvider: {
		msg.ClassRefresh: true,
		msg.ClassUpdate:  true,
		msg.ClassStatus:  true,
		msg.ClassAck:     true,
		msg.ClassGeneric: true,
	},
	RoleNIProvider: {
		msg.ClassRefresh: true,
		msg.ClassUpdate:  true,
		msg.ClassStatus:  true,
		msg.ClassGeneric: true,
	},
}

// CanSend reports whether role may send m.
func CanSend(role Role, m *msg.Msg) bool {
	c := m.Class()
	if allowed[role][c] {
		return true
	}
	return role == RoleNIProvider && m.Domain == msg.DomainLogin &&
		(c == msg.ClassRequest || c == msg.ClassClose)
}

func checkRole(role Role, m *msg.Msg) error {
	if !CanSend(role, m) {
		return failure.Usage("session send", "%s session cannot send %s on %s", role, m.Class(), m.Domain)
	}
	return nil
}
