// Package models defines the records shared by the sampler, the rollup engine,
// the alert evaluator and the storage backends.
package models

import "time"

// Kind identifies the database engine behind a monitored instance.
type Kind string

const (
	KindMongoDB  Kind = "mongodb"
	KindPostgres Kind = "postgres"
	KindMySQL    Kind = "mysql"
)

// Valid reports whether k is a supported engine.
func (k Kind) Valid() bool {
	switch k {
	case KindMongoDB, KindPostgres, KindMySQL:
		return true
	}
	return false
}

// Instance is a monitored database target.
type Instance struct {
	ID        string    `json:"id" bson:"_id"`
	Name      string    `json:"name" bson:"name"`
	Kind      Kind      `json:"kind" bson:"kind"`
	URI       string    `json:"uri,omitempty" bson:"uri"`
	Active    bool      `json:"active" bson:"active"`
	CreatedAt time.Time `json:"createdAt" bson:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt" bson:"updatedAt"`
}

// Descriptor is the part of an Instance needed to open a connection.
type Descriptor struct {
	Kind Kind
	URI  string
}

// Descriptor returns the connection descriptor for the instance.
func (i Instance) Descriptor() Descriptor {
	return Descriptor{Kind: i.Kind, URI: i.URI}
}
