// Package pgstore persists saga instances in PostgreSQL.
//
// Each instance is one row of saga_instances (see migrations/00001_saga_instances.sql).
// Updates are conditional on the row's version column, so two orchestrators
// racing on the same correlation id cannot both commit:
//
//	store := pgstore.New(pool)
//	orch := saga.NewOrchestrator(store, resolver, engine, scheduler)
//
// Store also implements saga.StalledLister for the reconciler.
package pgstore
