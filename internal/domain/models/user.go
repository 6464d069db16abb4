package models

// User представляет пользователя приложения (клиента или сотрудника)
type User struct {
	ID       int64
	Email    string
	Name     string
	PassHash []byte
	IsAdmin  bool // сотрудники получают уведомления о новых заказах и имеют доступ к кассе
}
