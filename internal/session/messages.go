package session

import "github.com/park285/cheese-arena/internal/oracle"

// message is the closed set of operations a session actor accepts.
type message interface{ isMessage() }

type bindMsg struct {
	participant string
	color       oracle.Color
}

type moveMsg struct {
	participant string
	spec        string
}

type resignMsg struct{ participant string }

type offerDrawMsg struct{ participant string }

type acceptDrawMsg struct{ participant string }

type abortMsg struct{ participant string }

type chatMsg struct {
	participant string
	text        string
}

type tickMsg struct{}

// machineMoveMsg is posted by the reply timer. ply pins the history length
// it was scheduled for so a stale timer cannot move twice.
type machineMoveMsg struct{ ply int }

type snapshotMsg struct{}

func (bindMsg) isMessage()        {}
func (moveMsg) isMessage()        {}
func (resignMsg) isMessage()      {}
func (offerDrawMsg) isMessage()   {}
func (acceptDrawMsg) isMessage()  {}
func (abortMsg) isMessage()       {}
func (chatMsg) isMessage()        {}
func (tickMsg) isMessage()        {}
func (machineMoveMsg) isMessage() {}
func (snapshotMsg) isMessage()    {}

type reply struct {
	snap Snapshot
	err  error
}

type envelope struct {
	msg   message
	reply chan reply
}
