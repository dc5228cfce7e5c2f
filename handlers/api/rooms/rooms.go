package rooms

import (
	"net/http"
	"sort"

	"collab-server/core"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/render"
	"github.com/sirupsen/logrus"
)

type (
	// LiveRooms is the part of the hub the API reads.
	LiveRooms interface {
		Rooms() []core.Room
		Room(key core.RoomKey) (core.Room, bool)
	}

	ErrorResponse struct {
		Error string `json:"error"`
	}
)

// HandleList lists rooms held in memory merged with the activity index, busiest
// and most recently active first. Index failures only drop the index half.
func HandleList(live LiveRooms, index core.RoomIndex) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		roomMap := make(map[string]*core.Room)
		for _, room := range live.Rooms() {
			room := room
			roomMap[roomKey(room)] = &room
		}

		if index != nil {
			if storedRooms, err := index.ListRooms(r.Context()); err != nil {
				logrus.WithError(err).Warn("failed to list rooms from index")
			} else {
				for _, stored := range storedRooms {
					entry, exists := roomMap[roomKey(stored)]
					if !exists {
						stored := stored
						roomMap[roomKey(stored)] = &stored
						continue
					}
					if stored.LastActive > entry.LastActive {
						entry.LastActive = stored.LastActive
					}
				}
			}
		}

		roomList := make([]core.Room, 0, len(roomMap))
		for _, entry := range roomMap {
			roomList = append(roomList, *entry)
		}

		sort.Slice(roomList, func(i, j int) bool {
			a, b := roomList[i], roomList[j]
			if a.Users != b.Users {
				return a.Users > b.Users
			}
			if a.LastActive != b.LastActive {
				return a.LastActive > b.LastActive
			}
			if a.ID != b.ID {
				return a.ID < b.ID
			}
			return a.Mode < b.Mode
		})

		render.JSON(w, r, roomList)
	}
}

// Router serves the room listing at / and single rooms at /{mode}/{id}. Binary
// document ids may contain slashes, so the id is the rest of the path.
func Router(live LiveRooms, index core.RoomIndex) chi.Router {
	r := chi.NewRouter()
	r.Get("/", HandleList(live, index))
	r.Get("/{mode}/*", HandleGet(live))
	return r
}

// HandleGet returns one live room addressed by /{mode}/{id}.
func HandleGet(live LiveRooms) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		mode := core.Mode(chi.URLParam(r, "mode"))
		id := chi.URLParam(r, "*")
		log := logrus.WithFields(logrus.Fields{
			"mode":        mode,
			"document_id": id,
		})

		if !mode.Valid() {
			log.Debug("Unknown room mode requested")
			render.Status(r, http.StatusBadRequest)
			render.JSON(w, r, ErrorResponse{Error: "mode must be log or blob"})
			return
		}

		room, ok := live.Room(core.RoomKey{Mode: mode, DocumentID: id})
		if !ok {
			render.Status(r, http.StatusNotFound)
			render.JSON(w, r, ErrorResponse{Error: "room not found"})
			return
		}
		render.JSON(w, r, room)
	}
}

func roomKey(room core.Room) string {
	if room.Mode == "" {
		return room.ID
	}
	return core.RoomKey{Mode: room.Mode, DocumentID: room.ID}.String()
}
