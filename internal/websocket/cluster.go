package websocket

import (
	"context"
	"encoding/json"
	"sync/atomic"
	"time"

	"github.com/nomercy/ranked-backend/internal/events"
	"github.com/nomercy/ranked-backend/pkg/distributed"
	"go.uber.org/zap"
)

const (
	targetJoin  = "join"
	targetLeave = "leave"

	onlineCheckTimeout  = 500 * time.Millisecond
	onlineUpdateTimeout = 2 * time.Second
)

type presenceUpdate struct {
	userID    string
	connected bool
}

// ClusterPublisher fans events out to the local hub first, then relays them to
// other instances so players connected elsewhere receive them too.
type ClusterPublisher struct {
	hub         *Hub
	broadcaster *distributed.Broadcaster
	online      *distributed.OnlineSet
	logger      *zap.Logger

	updates chan presenceUpdate
	resync  atomic.Bool
}

// NewClusterPublisher registers the hub's connection hook; call before hub.Run.
func NewClusterPublisher(hub *Hub, broadcaster *distributed.Broadcaster, online *distributed.OnlineSet, logger *zap.Logger) *ClusterPublisher {
	p := &ClusterPublisher{
		hub:         hub,
		broadcaster: broadcaster,
		online:      online,
		logger:      logger.Named("cluster"),
		updates:     make(chan presenceUpdate, 1024),
	}
	hub.OnConnection(p.trackConnection)
	return p
}

// Run relays deliveries from other instances into the local hub and keeps
// this instance's share of the online set current.
func (p *ClusterPublisher) Run(ctx context.Context) error {
	go p.trackOnline(ctx)
	return p.broadcaster.Run(ctx, p.handle)
}

// trackConnection runs on the hub goroutine; updates are applied in order by
// trackOnline.
func (p *ClusterPublisher) trackConnection(userID string, connected bool) {
	select {
	case p.updates <- presenceUpdate{userID: userID, connected: connected}:
	default:
		p.resync.Store(true)
		p.logger.Warn("Online update queue full, resyncing", zap.String("userId", userID))
	}
}

func (p *ClusterPublisher) trackOnline(ctx context.Context) {
	ticker := time.NewTicker(p.online.TTL() / 3)
	defer ticker.Stop()

	p.syncOnline()
	for {
		select {
		case u := <-p.updates:
			p.applyUpdate(u)
			if p.resync.CompareAndSwap(true, false) {
				p.syncOnline()
			}
		case <-ticker.C:
			p.resync.Store(false)
			p.syncOnline()
		case <-ctx.Done():
			clearCtx, cancel := context.WithTimeout(context.Background(), onlineUpdateTimeout)
			defer cancel()
			if err := p.online.Clear(clearCtx); err != nil {
				p.logger.Warn("Failed to clear online set", zap.Error(err))
			}
			return
		}
	}
}

func (p *ClusterPublisher) applyUpdate(u presenceUpdate) {
	ctx, cancel := context.WithTimeout(context.Background(), onlineUpdateTimeout)
	defer cancel()

	var err error
	if u.connected {
		err = p.online.Add(ctx, u.userID)
	} else {
		err = p.online.Remove(ctx, u.userID)
	}
	if err != nil {
		p.resync.Store(true)
		p.logger.Warn("Failed to update online set",
			zap.String("userId", u.userID),
			zap.Bool("connected", u.connected),
			zap.Error(err))
	}
}

func (p *ClusterPublisher) syncOnline() {
	ctx, cancel := context.WithTimeout(context.Background(), onlineUpdateTimeout)
	defer cancel()
	if err := p.online.Sync(ctx, p.hub.ConnectedUsers()); err != nil {
		p.resync.Store(true)
		p.logger.Warn("Failed to sync online set", zap.Error(err))
	}
}

func (p *ClusterPublisher) handle(d distributed.Delivery) {
	switch d.Target {
	case distributed.TargetUser:
		p.hub.DeliverToUser(d.TargetID, d.Data)
	case distributed.TargetMatch:
		p.hub.DeliverToMatch(d.TargetID, d.Data)
	case targetJoin:
		var ids []string
		if err := json.Unmarshal(d.Data, &ids); err != nil {
			p.logger.Error("Invalid room membership delivery", zap.Error(err))
			return
		}
		p.hub.JoinMatch(d.TargetID, ids)
	case targetLeave:
		p.hub.LeaveMatch(d.TargetID)
	default:
		p.logger.Warn("Unknown delivery target", zap.String("target", d.Target))
	}
}

func (p *ClusterPublisher) ToUser(userID string, evt events.Event) {
	data, err := encode(evt)
	if err != nil {
		p.logger.Error("Failed to encode event", zap.String("type", evt.Type()), zap.Error(err))
		return
	}
	p.hub.DeliverToUser(userID, data)
	p.broadcaster.Publish(distributed.TargetUser, userID, data)
}

func (p *ClusterPublisher) ToMatch(matchID string, evt events.Event) {
	data, err := encode(evt)
	if err != nil {
		p.logger.Error("Failed to encode event", zap.String("type", evt.Type()), zap.Error(err))
		return
	}
	p.hub.DeliverToMatch(matchID, data)
	p.broadcaster.Publish(distributed.TargetMatch, matchID, data)
}

func (p *ClusterPublisher) JoinMatch(matchID string, userIDs []string) {
	p.hub.JoinMatch(matchID, userIDs)
	data, err := json.Marshal(userIDs)
	if err != nil {
		return
	}
	p.broadcaster.Publish(targetJoin, matchID, data)
}

func (p *ClusterPublisher) LeaveMatch(matchID string) {
	p.hub.LeaveMatch(matchID)
	p.broadcaster.Publish(targetLeave, matchID, []byte("null"))
}

// IsConnected checks the local hub, then the cluster-wide online set.
func (p *ClusterPublisher) IsConnected(userID string) bool {
	if p.hub.IsConnected(userID) {
		return true
	}
	ctx, cancel := context.WithTimeout(context.Background(), onlineCheckTimeout)
	defer cancel()
	ok, err := p.online.Contains(ctx, userID)
	if err != nil {
		p.logger.Warn("Failed to check online set", zap.String("userId", userID), zap.Error(err))
		return false
	}
	return ok
}
