package migration

// TargetSchemaVersion is the target database schema version
const TargetSchemaVersion = 1

// Migrate executes custom code as part of a database migration. This code is
// intended to be run only once and typically goes along a change
// in the database schemas. Some use cases might be backfilling a table or
// updating some existing records according to the schema changes.
//
// Note that the changes in the database schemas shouldn't be run here, only
// code accompanying them.
func Migrate(version uint) error {
	switch version {
	default:
		return nil
	}
}
