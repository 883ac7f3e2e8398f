// Package roles hands out the two player seats first-come, first-served and
// frees them when connections close.
package roles

import (
	"errors"
	"strings"

	"github.com/park285/cheese-relay/internal/domain"
	"github.com/park285/cheese-relay/internal/obslog"
	"github.com/park285/cheese-relay/internal/session"
	"go.uber.org/zap"
)

var ErrInvalidConnection = errors.New("invalid connection id")

type Manager struct {
	sess   *session.Session
	logger *zap.Logger
}

func NewManager(sess *session.Session, logger *zap.Logger) *Manager {
	if logger == nil {
		logger = obslog.L()
	}
	return &Manager{sess: sess, logger: logger}
}

// Connect assigns a role to a new connection: White if vacant, else Black if
// vacant, else Spectator. There is no reconnection affinity.
func (m *Manager) Connect(id string) (domain.Role, error) {
	if strings.TrimSpace(id) == "" {
		return "", ErrInvalidConnection
	}
	if role, held := m.sess.SeatOf(id); held {
		return role, session.ErrAlreadyJoined
	}
	for _, seat := range domain.Seats {
		if m.sess.Holder(seat) != "" {
			continue
		}
		if err := m.sess.Sit(id, seat); err != nil {
			return "", err
		}
		m.logger.Info("seat_assign",
			zap.String("conn_id", id),
			zap.String("role", string(seat)),
			zap.Int("occupied", m.sess.Occupied()),
		)
		return seat, nil
	}
	if err := m.sess.Watch(id); err != nil {
		return "", err
	}
	m.logger.Info("seat_assign", zap.String("conn_id", id), zap.String("role", string(domain.RoleSpectator)))
	return domain.RoleSpectator, nil
}

// Disconnect releases whatever id held. A seat becomes vacant immediately;
// the position is not touched.
func (m *Manager) Disconnect(id string) (domain.Role, bool) {
	role, ok := m.sess.Remove(id)
	if !ok {
		return "", false
	}
	if role.IsSeat() {
		m.logger.Info("seat_release",
			zap.String("conn_id", id),
			zap.String("role", string(role)),
			zap.Int("occupied", m.sess.Occupied()),
		)
	}
	return role, true
}

// Occupied counts the filled seats (0, 1 or 2).
func (m *Manager) Occupied() int { return m.sess.Occupied() }
