package services

import (
	"fmt"
	"sort"

	"github.com/google/uuid"

	"github.com/ekaya-inc/ekaya-datasync/pkg/adapters/datasync"
	"github.com/ekaya-inc/ekaya-datasync/pkg/apperrors"
	"github.com/ekaya-inc/ekaya-datasync/pkg/models"
)

// syncColumn is an enabled property together with the field mirroring it.
type syncColumn struct {
	property datasync.Property
	field    *models.Field
}

// syncPlan is the difference between the destination rows and a fresh
// snapshot of the source.
type syncPlan struct {
	creates []map[uuid.UUID]models.Value
	// updates carry the whole existing row with the changed values merged in.
	updates []models.Row
	deletes []int64

	// duplicates counts incoming rows whose identity was already seen in the
	// same snapshot. The last one wins.
	duplicates int
}

func (p *syncPlan) empty() bool {
	return len(p.creates) == 0 && len(p.updates) == 0 && len(p.deletes) == 0
}

// planSync diffs existing rows against incoming source rows. Columns are the
// enabled mappings; identity lists the identity columns in declared order.
// A key missing from an incoming row is read as nil. Values the fields cannot
// store are reported as a SyncError.
func planSync(columns, identity []syncColumn, existing []models.Row, incoming []map[string]any) (*syncPlan, error) {
	plan := &syncPlan{}

	existingByIdentity := make(map[string]models.Row, len(existing))
	for _, row := range existing {
		existingByIdentity[identityOf(identity, row.Values)] = row
	}

	incomingByIdentity := make(map[string]map[uuid.UUID]models.Value, len(incoming))
	var incomingOrder []string
	for _, raw := range incoming {
		values := make(map[uuid.UUID]models.Value, len(columns))
		for _, c := range columns {
			v, err := models.NormalizeValue(c.field, raw[c.property.Key])
			if err != nil {
				return nil, apperrors.WrapSyncError(err,
					fmt.Sprintf("The source returned an invalid value for %q: %v", c.property.Key, err))
			}
			values[c.field.ID] = v
		}

		key := identityOf(identity, values)
		if _, seen := incomingByIdentity[key]; seen {
			plan.duplicates++
		} else {
			incomingOrder = append(incomingOrder, key)
		}
		incomingByIdentity[key] = values
	}

	for _, key := range incomingOrder {
		if _, ok := existingByIdentity[key]; !ok {
			plan.creates = append(plan.creates, incomingByIdentity[key])
		}
	}

	for _, row := range existing {
		key := identityOf(identity, row.Values)
		values, ok := incomingByIdentity[key]
		if !ok {
			plan.deletes = append(plan.deletes, row.ID)
			continue
		}

		merged := row.Clone()
		changed := false
		for _, c := range columns {
			next := values[c.field.ID]
			if !c.property.IsEqual(row.Values[c.field.ID], next) {
				merged.Values[c.field.ID] = next
				changed = true
			}
		}
		if changed {
			plan.updates = append(plan.updates, merged)
		}
	}

	sort.Slice(plan.deletes, func(i, j int) bool { return plan.deletes[i] < plan.deletes[j] })
	return plan, nil
}

func identityOf(identity []syncColumn, values map[uuid.UUID]models.Value) string {
	tuple := make([]models.Value, len(identity))
	for i, c := range identity {
		tuple[i] = values[c.field.ID]
	}
	return models.IdentityKey(tuple...)
}
