package mesh

import (
	"context"

	"github.com/sirupsen/logrus"

	"github.com/GlobalSushrut/mcp-zero/internal/agreements"
	"github.com/GlobalSushrut/mcp-zero/pkg/models"
)

// Validator answers cross-node agreement checks and replicates usage reports
// into the local agreement engine. Usage pushing a metered total past its
// limit is handed to the executor, which meters the overage into billing.
type Validator struct {
	nodeID   string
	engine   *agreements.Engine
	executor *agreements.Executor
	log      *logrus.Entry
}

// UsageReport is the outcome of replicating one usage message.
type UsageReport struct {
	Success       bool    `json:"success"`
	LimitExceeded bool    `json:"limit_exceeded"`
	CurrentUsage  float64 `json:"current_usage"`
	Reason        string  `json:"reason,omitempty"`
}

// NewValidator creates a validator bound to one node identity. The executor
// may be nil, in which case limit breaches are reported but not billed.
func NewValidator(nodeID string, engine *agreements.Engine, executor *agreements.Executor) *Validator {
	return &Validator{
		nodeID:   nodeID,
		engine:   engine,
		executor: executor,
		log:      logrus.WithField("component", "mesh-validator"),
	}
}

// Attach subscribes the validator to the node's validation and usage
// messages. Validation replies are broadcast so the requester receives them
// on any link.
func (v *Validator) Attach(node *Node) {
	node.Subscribe(models.MsgAgreementValidation, func(env models.Envelope, conn wsConn) {
		agreementID := dataString(env.Data, "agreement_id")
		resourceID := dataString(env.Data, "resource_id")
		consumerID := dataString(env.Data, "consumer_id")
		if agreementID == "" || resourceID == "" || consumerID == "" {
			v.log.Warn("Incomplete agreement validation request")
			return
		}

		result := v.ValidateAgreement(agreementID, resourceID, consumerID)
		if requestID := dataString(env.Data, "request_id"); requestID != "" {
			node.Broadcast(NewEnvelope(models.MsgAgreementValResp, v.nodeID, map[string]interface{}{
				"request_id": requestID,
				"result":     result,
			}))
		}
	})

	node.Subscribe(models.MsgResourceUsage, func(env models.Envelope, conn wsConn) {
		agreementID := dataString(env.Data, "agreement_id")
		metric := dataString(env.Data, "metric")
		quantity := dataFloat(env.Data, "quantity")
		if agreementID == "" || metric == "" || quantity <= 0 {
			v.log.Warn("Incomplete resource usage message")
			return
		}
		if _, err := v.RecordUsage(context.Background(), agreementID, metric, quantity); err != nil {
			v.log.Errorf("Error recording usage for agreement %s: %v", agreementID, err)
		}
	})
}

// ValidateAgreement reports whether an agreement authorises the consumer to
// use the resource right now.
func (v *Validator) ValidateAgreement(agreementID, resourceID, consumerID string) agreements.ValidityResult {
	result := v.engine.CheckAgreementValidity(agreementID, resourceID)
	if result.Valid && result.ConsumerID != consumerID {
		result.Valid = false
		result.Reason = "consumer mismatch"
	}
	return result
}

// RecordUsage replicates a usage report into the agreement engine and, when
// the metric crosses its limit, runs enforcement so priced overage is
// metered into billing.
func (v *Validator) RecordUsage(ctx context.Context, agreementID, metric string, quantity float64) (UsageReport, error) {
	res, err := v.engine.RecordUsage(agreementID, metric, quantity)
	if err != nil {
		return UsageReport{Reason: err.Error()}, err
	}

	report := UsageReport{
		Success:       true,
		LimitExceeded: res.Warning != "",
		CurrentUsage:  res.Usage,
	}
	if report.LimitExceeded && v.executor != nil {
		if err := v.executor.EnforceAgreement(ctx, agreementID); err != nil {
			v.log.Errorf("Error enforcing agreement %s: %v", agreementID, err)
		}
	}
	return report, nil
}
