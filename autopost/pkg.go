package autopost

import (
	"github.com/heraldhq/herald/autopost/publisher"
	"github.com/heraldhq/herald/autopost/transport"
)

type AccountID = transport.AccountID
type DestinationID = transport.DestinationID
type MessageEvent = transport.MessageEvent
type Transport = transport.Transport

type Supervisor = publisher.Supervisor
type Loop = publisher.Loop
type LoopState = publisher.LoopState

var (
	NotRunning = publisher.NotRunning
	Running    = publisher.Running
	Stopping   = publisher.Stopping
)
