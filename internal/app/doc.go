// Package app composes the arbitration engine into a running application.
//
// The package wires domain models, storage backends, boundary adapters and
// the business services together, and owns no business logic of its own.
//
//	internal/app/
//	├── application.go      # Application struct, wiring, and lifecycle
//	├── domain/             # Pure data models (committee, application, proposal, reward)
//	├── engine/             # Error taxonomy, kind contracts, mutation sequencer
//	├── kinds/              # Built-in application kinds
//	├── registry/           # Role registry boundary
//	├── stake/              # Stake ledger boundary
//	├── vault/              # Payout vault boundary
//	├── storage/            # Store interfaces plus memory and postgres backends
//	├── services/           # Business services (applications, arbitration, rewards, ...)
//	├── httpapi/            # HTTP handlers, auth, and audit middleware
//	├── system/             # Lifecycle manager
//	├── runtime/            # Process assembly (config, stores, HTTP server)
//	└── metrics/            # Prometheus collectors
//
// Dependency direction runs downward only: runtime depends on app, app wires
// services, services depend on storage interfaces and boundaries, and domain
// packages depend on nothing above them.
//
// Adding a new domain concern follows the same steps each time: define the
// model under domain/, extend the interfaces in storage/interfaces.go,
// implement them in storage/memory and storage/postgres, build the service
// under services/, wire it in application.go, and expose it in httpapi.
package app
