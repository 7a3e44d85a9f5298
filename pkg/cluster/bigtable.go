package cluster

import (
	"context"
	"fmt"
	"math"

	"cloud.google.com/go/bigtable"
	"go.uber.org/zap"
	"google.golang.org/api/option"
)

// instanceAdmin is the subset of *bigtable.InstanceAdminClient the sizer needs.
type instanceAdmin interface {
	Clusters(ctx context.Context, instanceID string) ([]*bigtable.ClusterInfo, error)
	GetCluster(ctx context.Context, instanceID, clusterID string) (*bigtable.ClusterInfo, error)
	UpdateCluster(ctx context.Context, instanceID, clusterID string, serveNodes int32) error
	Close() error
}

// BigtableSizer reads and writes the serve-node count of one Bigtable cluster.
type BigtableSizer struct {
	admin      instanceAdmin
	instanceID string
	clusterID  string
	logger     *zap.Logger
}

var _ Sizer = (*BigtableSizer)(nil)

// NewBigtableSizer connects to the instance admin API. An empty clusterID is resolved to the
// instance's only cluster; instances with several clusters need it set explicitly.
func NewBigtableSizer(ctx context.Context, logger *zap.Logger, projectID, instanceID, clusterID string, opts ...option.ClientOption) (*BigtableSizer, error) {
	admin, err := bigtable.NewInstanceAdminClient(ctx, projectID, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create bigtable instance admin client: %w", err)
	}
	s, err := newBigtableSizer(ctx, logger, admin, instanceID, clusterID)
	if err != nil {
		_ = admin.Close()
		return nil, err
	}
	return s, nil
}

func newBigtableSizer(ctx context.Context, logger *zap.Logger, admin instanceAdmin, instanceID, clusterID string) (*BigtableSizer, error) {
	log := logger.Named("bigtableSizer")
	if clusterID == "" {
		clusters, err := admin.Clusters(ctx, instanceID)
		if err != nil {
			return nil, fmt.Errorf("failed to list clusters of instance %s: %w", instanceID, err)
		}
		if len(clusters) != 1 {
			return nil, fmt.Errorf("instance %s has %d clusters, CLUSTER_ID must be set", instanceID, len(clusters))
		}
		clusterID = clusters[0].Name
		log.Info("Discovered cluster", zap.String("instance", instanceID), zap.String("cluster", clusterID))
	}
	return &BigtableSizer{
		admin:      admin,
		instanceID: instanceID,
		clusterID:  clusterID,
		logger:     log,
	}, nil
}

// ClusterID returns the cluster this sizer manages.
func (s *BigtableSizer) ClusterID() string { return s.clusterID }

func (s *BigtableSizer) GetClusterSize(ctx context.Context) (int, error) {
	info, err := s.admin.GetCluster(ctx, s.instanceID, s.clusterID)
	if err != nil {
		return 0, fmt.Errorf("GetClusterSize - GET %s/%s: %w", s.instanceID, s.clusterID, err)
	}
	return info.ServeNodes, nil
}

func (s *BigtableSizer) SetClusterSize(ctx context.Context, size int) error {
	if size <= 0 || size > math.MaxInt32 {
		return fmt.Errorf("SetClusterSize - invalid node count %d", size)
	}
	s.logger.Debug("Updating serve nodes", zap.String("cluster", s.clusterID), zap.Int("nodes", size))
	if err := s.admin.UpdateCluster(ctx, s.instanceID, s.clusterID, int32(size)); err != nil {
		return fmt.Errorf("SetClusterSize - UPDATE %s/%s: %w", s.instanceID, s.clusterID, err)
	}
	return nil
}

func (s *BigtableSizer) Close() error {
	return s.admin.Close()
}
