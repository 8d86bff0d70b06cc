package migrations

import (
	"payflow/internal/services/audit"

	"github.com/pocketbase/pocketbase/core"
	m "github.com/pocketbase/pocketbase/migrations"
)

func init() {
	m.Register(func(app core.App) error {
		collection := core.NewBaseCollection(audit.Collection)

		collection.Fields.Add(
			&core.TextField{Name: "tx_id", Required: true},
			&core.TextField{Name: "session_id", Required: true},
			&core.TextField{Name: "actor_id"},
			&core.TextField{Name: "reference"},
			&core.TextField{Name: "type"},
			// kept as text, amounts are never floats
			&core.TextField{Name: "amount"},
			&core.TextField{Name: "phase", Required: true},
			&core.TextField{Name: "failure_kind"},
			&core.TextField{Name: "code"},
			&core.TextField{Name: "gateway_tx_id"},
			&core.TextField{Name: "error"},
			&core.AutodateField{Name: "created", OnCreate: true},
			&core.AutodateField{Name: "updated", OnCreate: true, OnUpdate: true},
		)

		collection.AddIndex("idx_payment_attempts_tx_id", true, "tx_id", "")
		collection.AddIndex("idx_payment_attempts_phase", false, "phase, failure_kind", "")

		return app.Save(collection)
	}, func(app core.App) error {
		collection, err := app.FindCollectionByNameOrId(audit.Collection)
		if err != nil {
			return err
		}

		return app.Delete(collection)
	})
}
