package bus

// Offer sends v on ch without blocking, discarding an unread value when
// ch is full so the receiver always finds the newest one. ch must be
// buffered and have a single sender.
func Offer[T any](ch chan T, v T) {
	for {
		select {
		case ch <- v:
			return
		default:
		}
		select {
		case <-ch:
		default:
		}
	}
}
