package repository

import "github.com/mmeshcher/warranty-desk/internal/model"

// DefaultServiceCenters возвращает авторизованные сервисные центры, которые
// миграции заносят в базу. Хранилище в памяти заполняется ими же.
func DefaultServiceCenters() []model.ServiceCenter {
	return []model.ServiceCenter{
		{Name: "Prime Motors Bengaluru", City: "Bengaluru", Address: "12 Hosur Road, Koramangala, Bengaluru 560095", Phone: "+91-80-4110-2200", Email: "service@primemotors-blr.example.in"},
		{Name: "Kalyani Autoworks", City: "Pune", Address: "88 Nagar Road, Viman Nagar, Pune 411014", Phone: "+91-20-6620-1100", Email: "care@kalyaniauto.example.in"},
		{Name: "Sai Service Andheri", City: "Mumbai", Address: "5 Link Road, Andheri West, Mumbai 400053", Phone: "+91-22-6710-4400", Email: "andheri@saiservice.example.in"},
		{Name: "Capital Cars Okhla", City: "New Delhi", Address: "41 Okhla Industrial Area Phase II, New Delhi 110020", Phone: "+91-11-4050-7700", Email: "okhla@capitalcars.example.in"},
		{Name: "Chennai Auto Hub", City: "Chennai", Address: "210 Mount Road, Guindy, Chennai 600032", Phone: "+91-44-4290-3300", Email: "service@chennaiautohub.example.in"},
		{Name: "Deccan Wheels", City: "Hyderabad", Address: "7 Banjara Hills Road No. 2, Hyderabad 500034", Phone: "+91-40-4455-8800", Email: "care@deccanwheels.example.in"},
	}
}
