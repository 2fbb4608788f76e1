// Package http exposes the reservation service over JSON and HTTP.
//
// The router exposes the following endpoints. Every route except /healthz
// requires an Authorization header carrying a Bearer token or an ApiKey
// service credential.
//   - GET /healthz: store liveness.
//   - GET /rooms, POST /rooms, GET|PUT|DELETE /rooms/{roomID}: room catalog
//     endpoints exchanging the `roomDTO` payload defined in room_handler.go.
//     Listing and reads are open to any authenticated principal while
//     mutations require the ADMIN role. `?active=true` limits the listing to
//     bookable rooms.
//   - GET /rooms/{roomID}/availability?start=&end=: whether the room is free
//     for the window, plus the free gaps inside it.
//   - GET /availability?start=&end=&room_id=: the rooms free for the window,
//     restricted to the repeated room_id parameters when given.
//   - GET /reservations, POST /reservations, GET|PATCH|DELETE
//     /reservations/{reservationID}: booking endpoints exchanging the
//     `reservationDTO` payload defined in reservation_handler.go. Non-admin
//     callers only see their own reservations.
//
// Times are RFC 3339. Errors are returned as {"error_code","message","errors"}.
package http
