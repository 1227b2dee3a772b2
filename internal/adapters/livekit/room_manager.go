package livekit

import (
	"context"
	"fmt"
	"time"

	"github.com/MrAlaminH/voice-agent-launchpad/pkg/logger"
	"github.com/livekit/protocol/auth"
	"github.com/livekit/protocol/livekit"
	lksdk "github.com/livekit/server-sdk-go/v2"
	"go.uber.org/zap"
)

// RoomManager wraps the LiveKit server APIs the gateway needs: room
// lifecycle, SIP participant dialing and access tokens.
type RoomManager struct {
	config     *LiveKitConfig
	roomClient *lksdk.RoomServiceClient
	sipClient  *lksdk.SIPClient
}

// NewRoomManager creates a new LiveKit room manager
func NewRoomManager(config *LiveKitConfig) (*RoomManager, error) {
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid LiveKit config: %w", err)
	}

	rm := &RoomManager{
		config:     config,
		roomClient: lksdk.NewRoomServiceClient(config.ServerURL, config.APIKey, config.APISecret),
		sipClient:  lksdk.NewSIPClient(config.ServerURL, config.APIKey, config.APISecret),
	}

	logger.Base().Info("LiveKit RoomManager initialized", zap.String("server_url", config.ServerURL))
	return rm, nil
}

// GenerateToken generates a LiveKit access token for a participant
func (rm *RoomManager) GenerateToken(roomName, participantName string) (string, error) {
	at := auth.NewAccessToken(rm.config.APIKey, rm.config.APISecret)

	// Explicitly set permissions
	canPublish := true
	canSubscribe := true

	grant := &auth.VideoGrant{
		RoomJoin:     true,
		Room:         roomName,
		CanPublish:   &canPublish,
		CanSubscribe: &canSubscribe,
	}

	at.SetVideoGrant(grant).
		SetIdentity(participantName).
		SetValidFor(2 * time.Hour)

	token, err := at.ToJWT()
	if err != nil {
		return "", fmt.Errorf("failed to generate JWT: %w", err)
	}

	return token, nil
}

// EnsureRoom creates the agent room if it does not already exist. LiveKit
// treats CreateRoom as idempotent, returning the existing room.
func (rm *RoomManager) EnsureRoom(ctx context.Context, roomName string) error {
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	room, err := rm.roomClient.CreateRoom(ctx, &livekit.CreateRoomRequest{
		Name:            roomName,
		EmptyTimeout:    300, // seconds before an empty room is reclaimed
		MaxParticipants: 10,
	})
	if err != nil {
		return fmt.Errorf("failed to create room %s: %w", roomName, err)
	}

	logger.Base().Info("room ready",
		zap.String("room_name", room.Name),
		zap.String("room_sid", room.Sid))
	return nil
}

// DialInbound bridges an incoming carrier call into roomName through the
// inbound SIP trunk.
func (rm *RoomManager) DialInbound(ctx context.Context, roomName, phoneNumber, identity string) (*livekit.SIPParticipantInfo, error) {
	return rm.dialSIP(ctx, rm.config.InboundTrunkID, roomName, phoneNumber, identity, "")
}

// DialOutbound places a call to phoneNumber through the outbound SIP trunk
// and bridges it into roomName. The configured outbound number is presented
// as caller ID.
func (rm *RoomManager) DialOutbound(ctx context.Context, roomName, phoneNumber, identity string) (*livekit.SIPParticipantInfo, error) {
	return rm.dialSIP(ctx, rm.config.OutboundTrunkID, roomName, phoneNumber, identity, rm.config.OutboundNumber)
}

func (rm *RoomManager) dialSIP(ctx context.Context, trunkID, roomName, phoneNumber, identity, fromNumber string) (*livekit.SIPParticipantInfo, error) {
	if trunkID == "" {
		return nil, fmt.Errorf("SIP trunk not configured")
	}

	ctx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	info, err := rm.sipClient.CreateSIPParticipant(ctx, &livekit.CreateSIPParticipantRequest{
		SipTrunkId:          trunkID,
		SipCallTo:           phoneNumber,
		SipNumber:           fromNumber,
		RoomName:            roomName,
		ParticipantIdentity: identity,
		ParticipantName:     phoneNumber,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create SIP participant: %w", err)
	}

	logger.Base().Info("SIP participant created",
		zap.String("room_name", roomName),
		zap.String("participant_id", info.ParticipantId),
		zap.String("participant_identity", info.ParticipantIdentity),
		zap.String("sip_call_id", info.SipCallId))
	return info, nil
}

// RemoveParticipant drops the telephony leg from the room, hanging up the
// SIP call.
func (rm *RoomManager) RemoveParticipant(ctx context.Context, roomName, identity string) error {
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	_, err := rm.roomClient.RemoveParticipant(ctx, &livekit.RoomParticipantIdentity{
		Room:     roomName,
		Identity: identity,
	})
	if err != nil {
		return fmt.Errorf("failed to remove participant %s from %s: %w", identity, roomName, err)
	}

	logger.Base().Info("participant removed",
		zap.String("room_name", roomName),
		zap.String("identity", identity))
	return nil
}

// DeleteRoom tears the agent room down, disconnecting everyone in it.
func (rm *RoomManager) DeleteRoom(ctx context.Context, roomName string) error {
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	_, err := rm.roomClient.DeleteRoom(ctx, &livekit.DeleteRoomRequest{Room: roomName})
	if err != nil {
		return fmt.Errorf("failed to delete room %s: %w", roomName, err)
	}

	logger.Base().Info("room deleted", zap.String("room_name", roomName))
	return nil
}

// ListRooms returns the rooms currently live on the server.
func (rm *RoomManager) ListRooms(ctx context.Context) ([]*livekit.Room, error) {
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	resp, err := rm.roomClient.ListRooms(ctx, &livekit.ListRoomsRequest{})
	if err != nil {
		return nil, fmt.Errorf("failed to list rooms: %w", err)
	}
	return resp.Rooms, nil
}
