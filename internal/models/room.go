package models

// CreatorName returns the display name of the room's first-ever member. Rooms
// persisted without an owner fall back to the earliest member still present.
func (r *Room) CreatorName() string {
	if r.Owner != "" {
		return r.Owner
	}
	if len(r.Members) == 0 {
		return ""
	}
	first := r.Members[0]
	for _, m := range r.Members[1:] {
		if m.Position < first.Position {
			first = m
		}
	}
	return first.Name
}

// RoleFor derives the role of name in this room. The stored role is never
// consulted.
func (r *Room) RoleFor(name string) Role {
	creator := r.CreatorName()
	if creator == "" || creator == name {
		return RoleAdmin
	}
	return RoleUser
}

// DeriveRoles overwrites every member's role with the derived value.
func (r *Room) DeriveRoles() {
	for i := range r.Members {
		r.Members[i].Role = r.RoleFor(r.Members[i].Name)
	}
}

func (r *Room) MemberByID(id string) (*Member, bool) {
	for i := range r.Members {
		if r.Members[i].ID == id {
			return &r.Members[i], true
		}
	}
	return nil, false
}

func (r *Room) MemberByName(name string) (*Member, bool) {
	for i := range r.Members {
		if r.Members[i].Name == name {
			return &r.Members[i], true
		}
	}
	return nil, false
}

func (r *Room) CardByID(id string) (*Card, bool) {
	for i := range r.Cards {
		if r.Cards[i].ID == id {
			return &r.Cards[i], true
		}
	}
	return nil, false
}

func (r *Room) State() RoomState {
	return RoomState{
		Cards: r.Cards,
		Phase: r.Phase,
		Users: r.Members,
	}
}
