package health

import (
	"context"
	"fmt"

	"github.com/dd0wney/cluso-chat/pkg/cluster"
)

// AliveCheck always reports healthy; it answers as long as the process serves HTTP
func AliveCheck(ctx context.Context) Check {
	return Check{Name: "alive", Status: StatusHealthy}
}

// StoreCheck reports the connectivity of the Service Actions backend
func StoreCheck(ping func(ctx context.Context) error) CheckFunc {
	return func(ctx context.Context) Check {
		check := Check{Name: "store"}

		if err := ping(ctx); err != nil {
			check.Status = StatusUnhealthy
			check.Message = err.Error()
		} else {
			check.Status = StatusHealthy
			check.Message = "Connected"
		}
		return check
	}
}

// ClusterCheck reports the state of the cluster directory. No known leader is
// unhealthy; unreachable members make the cluster degraded.
func ClusterCheck(view func() cluster.ClusterView) CheckFunc {
	return func(ctx context.Context) Check {
		v := view()
		reachable := 0
		for _, rec := range v.Members {
			if rec.Reachable {
				reachable++
			}
		}

		check := Check{
			Name: "cluster",
			Details: map[string]any{
				"self_id":           v.SelfID,
				"leader_id":         v.LeaderID,
				"epoch":             v.Epoch,
				"members":           len(v.Members),
				"reachable_members": reachable,
				"is_leader":         v.LeaderID != "" && v.LeaderID == v.SelfID,
			},
		}

		leader, ok := v.Members[v.LeaderID]
		switch {
		case v.LeaderID == "" || !ok:
			check.Status = StatusUnhealthy
			check.Message = "No leader known"
		case !leader.Reachable:
			check.Status = StatusUnhealthy
			check.Message = fmt.Sprintf("Leader %s unreachable, election pending", v.LeaderID)
		case reachable < len(v.Members):
			check.Status = StatusDegraded
			check.Message = fmt.Sprintf("%d of %d members unreachable", len(v.Members)-reachable, len(v.Members))
		default:
			check.Status = StatusHealthy
			check.Message = "Cluster healthy"
		}
		return check
	}
}
