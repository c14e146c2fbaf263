package gateway

import (
	"gptbridge/pkg/api"
)

// Aliases of the api types the gateway routes.
type Channel = api.Channel
type SignalingChannel = api.SignalingChannel
type MessageResponder = api.MessageResponder
type ChannelContext = api.ChannelContext
type UnifiedMessage = api.UnifiedMessage
type SessionContext = api.SessionContext

// MessageHandler is the callback receiving every inbound message.
type MessageHandler = api.MessageHandler
