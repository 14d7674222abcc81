package enum

// EntityType names what an event's EntityId refers to.
type EntityType string

const (
	EntityAccount EntityType = "EXCHANGE_ACCOUNT"
	EntityFolder  EntityType = "EXCHANGE_FOLDER"
	EntityMessage EntityType = "EXCHANGE_MESSAGE"
)

func (e EntityType) String() string {
	return string(e)
}

func (e EntityType) IsValid() bool {
	return e == EntityAccount || e == EntityFolder || e == EntityMessage
}
