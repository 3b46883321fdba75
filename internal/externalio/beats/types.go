package beats

// Batch sender as provided by the lumberjack client
type Sink interface {
	Send(events []interface{}) (int, error)
	Close() error
}

// Ships telegram traces to a Beats/Logstash endpoint
type OutModule struct {
	sink  Sink
	batch []interface{}
}
