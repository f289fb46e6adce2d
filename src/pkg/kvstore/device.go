package kvstore

import (
	"context"

	uuid "github.com/satori/go.uuid"
)

// DeviceID 返回持久化的设备标识，首次调用时生成
func (s *Store) DeviceID(ctx context.Context) (string, error) {
	id, err := s.Get(ctx, NamespaceDevice, KeyDeviceID)
	if err != nil {
		return "", err
	}
	if id != "" {
		return id, nil
	}
	id = uuid.Must(uuid.NewV4()).String()
	if err := s.Set(ctx, NamespaceDevice, KeyDeviceID, id); err != nil {
		return "", err
	}
	return id, nil
}
